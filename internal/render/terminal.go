// Package render prints the conversation and user notices to a terminal.
package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/zhouzirui/travochat/internal/model/chat"
)

// Terminal renders messages and notices as lines on w. Own messages show only
// their content; others are prefixed with the sender.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	own    *color.Color
	sender *color.Color
	notice *color.Color
	dim    *color.Color
}

// NewTerminal returns a Terminal writing to w.
func NewTerminal(w io.Writer, noColor bool) *Terminal {
	t := &Terminal{
		w:      w,
		own:    color.New(color.FgGreen),
		sender: color.New(color.FgCyan, color.Bold),
		notice: color.New(color.FgYellow),
		dim:    color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{t.own, t.sender, t.notice, t.dim} {
			c.DisableColor()
		}
	}
	return t
}

// Render prints one conversation entry.
func (t *Terminal) Render(msg chat.Message, own bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !msg.ReceivedAt.IsZero() {
		t.dim.Fprintf(t.w, "%s ", msg.ReceivedAt.Local().Format("15:04"))
	}
	if own {
		t.own.Fprintln(t.w, msg.Content)
		return
	}
	sender := msg.Sender
	if sender == "" {
		sender = "anonymous"
	}
	t.sender.Fprintf(t.w, "%s: ", sender)
	fmt.Fprintln(t.w, msg.Content)
}

// Notify prints a notice line.
func (t *Terminal) Notify(notice string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notice.Fprintf(t.w, "! %s\n", notice)
}

// Info prints a dimmed informational line.
func (t *Terminal) Info(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dim.Fprintf(t.w, format+"\n", args...)
}
