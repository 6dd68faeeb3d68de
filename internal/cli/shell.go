package cli

import (
	"context"
	"strings"

	"github.com/zhouzirui/travochat/internal/gateway"
	"github.com/zhouzirui/travochat/internal/model/chat"
	"github.com/zhouzirui/travochat/internal/realtime"
)

// widget is the part of the orchestrator the shell drives.
type widget interface {
	Register(ctx context.Context, name, email string) (gateway.RegistrationResult, error)
	Send(ctx context.Context, text string) error
	EnsureConnected(ctx context.Context) error
	ChatReady() bool
	Identity() chat.Identity
	Session() chat.Session
	ChannelStatus() realtime.Status
}

type output interface {
	Info(format string, args ...any)
	Notify(notice string)
}

// shell interprets one line of user input at a time. Lines starting with a
// slash are commands; anything else is sent as a chat message.
type shell struct {
	widget widget
	out    output
}

const helpText = `commands:
  /register <name> <email>  register and join the chat
  /reconnect                reopen the chat connection
  /whoami                   show identity and session
  /quit                     leave`

func (s *shell) greet() {
	if s.widget.ChatReady() {
		id := s.widget.Identity()
		s.out.Info("chatting as %s in session %d (/help for commands)", displayName(id), s.widget.Session().ID)
		return
	}
	s.out.Info("not registered yet: /register <name> <email>")
}

// exec runs one line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		// Errors were already shown to the user by the orchestrator.
		_ = s.widget.Send(ctx, line)
		return false
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		s.out.Info(helpText)
	case "/register":
		if len(fields) < 3 {
			s.out.Notify("usage: /register <name> <email>")
			return false
		}
		name := strings.Join(fields[1:len(fields)-1], " ")
		email := fields[len(fields)-1]
		if _, err := s.widget.Register(ctx, name, email); err == nil && s.widget.ChatReady() {
			s.out.Info("joined session %d", s.widget.Session().ID)
		}
	case "/reconnect":
		if err := s.widget.EnsureConnected(ctx); err == nil {
			s.out.Info("connection %s", s.widget.ChannelStatus())
		} else if !s.widget.ChatReady() {
			s.out.Notify("register first: /register <name> <email>")
		}
	case "/whoami":
		id := s.widget.Identity()
		s.out.Info("name=%s email=%s user=%s session=%d connection=%s",
			displayName(id), id.Email, id.UserID, s.widget.Session().ID, s.widget.ChannelStatus())
	default:
		s.out.Notify("unknown command " + fields[0] + " (/help for commands)")
	}
	return false
}

func displayName(id chat.Identity) string {
	if id.Name == "" {
		return "(unnamed)"
	}
	return id.Name
}
