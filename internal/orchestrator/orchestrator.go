// Package orchestrator drives one widget instance: it resolves who the user is,
// makes sure a session is active, opens the realtime channel once and routes
// messages between the channel, the conversation log and the renderer.
//
// The startup protocol issues the identity check and the session activation
// concurrently. Either path may complete first, so every completion re-checks
// the widget state instead of relying on ordering. Opening the channel is
// idempotent and only happens once a session is active.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/travochat/internal/gateway"
	"github.com/zhouzirui/travochat/internal/identity"
	"github.com/zhouzirui/travochat/internal/model/chat"
	"github.com/zhouzirui/travochat/internal/realtime"
	chatlog "github.com/zhouzirui/travochat/internal/service/chat"
)

// User-visible notices.
const (
	NoticeMissingFields  = "Please provide both name and email."
	NoticeInvalidEmail   = "Please provide a valid email."
	NoticeCheckFailed    = "Error checking user"
	NoticeRegisterFailed = "Error registering user"
	NoticeStartFailed    = "Error starting session"
	NoticeNoSession      = "Session expired or invalid message"
	NoticeSendFailed     = "Error sending message"
	NoticeConnectFailed  = "Error connecting to chat"
	NoticeConnectionLost = "Connection to chat lost"
	NoticeStoreFailed    = "Error saving your details"
	NoticeRegistering    = "Registration already in progress"
)

// ErrNoSession rejects a send while no session is active.
var ErrNoSession = errors.New("no active session")

// IdentityGateway registers users and checks known emails.
type IdentityGateway interface {
	Register(ctx context.Context, name, email string) (gateway.RegistrationResult, error)
	CheckIdentity(ctx context.Context, email string) (gateway.IdentityStatus, error)
}

// SessionGateway activates sessions.
type SessionGateway interface {
	Activate(ctx context.Context, userID string) (gateway.SessionActivationResult, error)
}

// Channel is the realtime connection the orchestrator drives.
type Channel interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg chat.Message) error
	OnMessage(h realtime.Handler)
	OnStatus(o realtime.StatusObserver)
	Status() realtime.Status
	Disconnect() error
}

// ChannelFactory builds the channel bound to the widget's session.
type ChannelFactory func(session realtime.SessionSource) (Channel, error)

// Renderer displays one conversation entry. own is true for the local user's
// messages.
type Renderer interface {
	Render(msg chat.Message, own bool)
}

// Notifier shows a short notice to the user.
type Notifier interface {
	Notify(notice string)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store      identity.Store
	Identities IdentityGateway
	Sessions   SessionGateway
	NewChannel ChannelFactory
	Renderer   Renderer
	Notifier   Notifier
	Logger     zerolog.Logger
}

// Orchestrator is the session state machine of one widget.
type Orchestrator struct {
	store      identity.Store
	identities IdentityGateway
	sessions   SessionGateway
	channel    Channel
	renderer   Renderer
	notifier   Notifier
	logger     zerolog.Logger

	state *Widget
	log   *chatlog.Log

	startOnce sync.Once
	// registering serializes registration submissions.
	registering sync.Mutex
}

// New wires an Orchestrator and registers its single message handler on the
// channel.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("identity store is required")
	}
	if deps.Identities == nil || deps.Sessions == nil {
		return nil, errors.New("identity and session gateways are required")
	}
	if deps.NewChannel == nil {
		return nil, errors.New("channel factory is required")
	}

	o := &Orchestrator{
		store:      deps.Store,
		identities: deps.Identities,
		sessions:   deps.Sessions,
		renderer:   deps.Renderer,
		notifier:   deps.Notifier,
		logger:     deps.Logger.With().Str("component", "orchestrator").Logger(),
		state:      NewWidget(),
		log:        chatlog.NewLog(),
	}
	if o.renderer == nil {
		o.renderer = discard{}
	}
	if o.notifier == nil {
		o.notifier = discard{}
	}

	ch, err := deps.NewChannel(o.state)
	if err != nil {
		return nil, fmt.Errorf("building channel: %w", err)
	}
	o.channel = ch
	ch.OnMessage(o.receive)
	ch.OnStatus(o.channelStatus)
	return o, nil
}

// Start runs the startup protocol once. It loads the stored identity, then
// checks the email and activates the stored user id concurrently, and returns
// after both have completed. Failures are reported through the Notifier and
// leave the widget usable for registration.
func (o *Orchestrator) Start(ctx context.Context) error {
	var err error
	o.startOnce.Do(func() { err = o.start(ctx) })
	return err
}

func (o *Orchestrator) start(ctx context.Context) error {
	id, err := identity.Load(o.store)
	if err != nil {
		o.logger.Error().Err(err).Msg("loading stored identity")
		return err
	}
	o.state.setIdentity(id)
	o.state.advance(chat.ResolvingIdentity)
	o.logger.Info().Str("name", id.Name).Str("email", id.Email).Str("user_id", id.UserID).Msg("starting widget")

	var g errgroup.Group
	if id.Email != "" {
		g.Go(func() error {
			o.resolveIdentity(ctx, id.Email)
			return nil
		})
	}

	// Eligibility is judged on the local session before either call returns.
	if !o.state.Session().Active() {
		if uid := identity.StoredUserID(id.UserID); uid > 0 {
			g.Go(func() error {
				o.activate(ctx, strconv.FormatInt(uid, 10))
				return nil
			})
		} else if id.UserID != "" {
			o.logger.Warn().Str("user_id", id.UserID).Msg("ignoring invalid stored user id")
		}
	}

	_ = g.Wait()

	if o.state.Session().Active() {
		_ = o.EnsureConnected(ctx)
	} else {
		o.logger.Info().Msg("no active session, waiting for registration")
	}
	return nil
}

func (o *Orchestrator) resolveIdentity(ctx context.Context, email string) {
	st, err := o.identities.CheckIdentity(ctx, email)
	if err != nil {
		o.logger.Warn().Err(err).Str("email", email).Msg("identity check failed")
		o.notifier.Notify(NoticeCheckFailed)
		return
	}
	if !st.Exists {
		o.logger.Info().Str("email", email).Msg("email not known to the service")
		return
	}
	if st.UserID != "" {
		o.state.setUserID(st.UserID)
	}
	if st.SessionID > 0 {
		o.adoptSession(st.SessionID, "identity check")
		if st.UserID != "" {
			o.persist(identity.KeyUserID, st.UserID)
		}
		_ = o.EnsureConnected(ctx)
	}
}

// activate asks the service for a session and adopts it. It reports whether
// a session was adopted or confirmed.
func (o *Orchestrator) activate(ctx context.Context, userID string) bool {
	o.state.advance(chat.ActivatingSession)
	res, err := o.sessions.Activate(ctx, userID)
	if err != nil {
		o.logger.Warn().Err(err).Str("user_id", userID).Msg("session activation failed")
		o.notifier.Notify(NoticeStartFailed)
		return false
	}
	if !res.Accepted() || res.SessionID <= 0 {
		o.logger.Warn().Int("status", res.StatusCode).Int64("session", res.SessionID).Msg("session activation rejected")
		o.notifier.Notify(NoticeStartFailed)
		return false
	}

	o.adoptSession(res.SessionID, "activation")
	if res.UserID != "" {
		o.persist(identity.KeyUserID, res.UserID)
		o.state.setUserID(res.UserID)
	}
	_ = o.EnsureConnected(ctx)
	return true
}

// Register runs the registration protocol for a user submission. Rejections by
// the service are returned as results; their message is shown to the user.
func (o *Orchestrator) Register(ctx context.Context, name, email string) (gateway.RegistrationResult, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		o.notifier.Notify(NoticeMissingFields)
		field := "name"
		if name != "" {
			field = "email"
		}
		return gateway.RegistrationResult{}, &gateway.ValidationError{Field: field, Reason: "required"}
	}

	if !o.registering.TryLock() {
		o.notifier.Notify(NoticeRegistering)
		return gateway.RegistrationResult{}, errors.New("registration already in progress")
	}
	defer o.registering.Unlock()

	res, err := o.identities.Register(ctx, name, email)
	if err != nil {
		o.notifier.Notify(registerNotice(err))
		o.logger.Warn().Err(err).Msg("registration failed")
		return res, err
	}

	if res.Accepted() {
		o.persist(identity.KeyName, name)
		o.persist(identity.KeyEmail, email)
		if res.UserID != "" {
			o.persist(identity.KeyUserID, res.UserID)
		}
		o.state.setIdentity(chat.Identity{Name: name, Email: email, UserID: res.UserID})
		o.adoptSession(res.SessionID, "registration")

		if res.UserID != "" {
			o.activate(ctx, res.UserID)
		}
		_ = o.EnsureConnected(ctx)
	} else {
		o.logger.Info().Int("status", res.StatusCode).Str("message", res.Message).Msg("registration rejected")
	}

	if res.Message != "" {
		o.notifier.Notify(res.Message)
	}
	return res, nil
}

// registerNotice picks the user-facing text for a failed registration call.
// A rejection that carries the server's own message shows that message.
func registerNotice(err error) string {
	var ve *gateway.ValidationError
	if errors.As(err, &ve) {
		if ve.Reason == "required" {
			return NoticeMissingFields
		}
		return NoticeInvalidEmail
	}
	var se *gateway.ServiceError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return NoticeRegisterFailed
}

// Send publishes text on the channel. Blank text is ignored.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sess := o.state.Session()
	if !sess.Active() {
		o.notifier.Notify(NoticeNoSession)
		return ErrNoSession
	}

	msg := chat.Message{
		Content:   text,
		Sender:    o.state.Identity().Name,
		SessionID: sess.ID,
	}
	if err := o.channel.Send(ctx, msg); err != nil {
		o.logger.Warn().Err(err).Int64("session", sess.ID).Msg("send failed")
		o.notifier.Notify(NoticeSendFailed)
		return err
	}
	return nil
}

// EnsureConnected opens the channel when a session is active. It is safe to
// call from every completion path; the channel ignores redundant calls.
func (o *Orchestrator) EnsureConnected(ctx context.Context) error {
	if !o.state.Session().Active() {
		return ErrNoSession
	}
	if err := o.channel.Connect(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("opening channel failed")
		o.notifier.Notify(NoticeConnectFailed)
		return err
	}
	return nil
}

// ChatReady reports whether the chat view should be shown instead of the
// registration form.
func (o *Orchestrator) ChatReady() bool { return o.state.Session().Active() }

// Phase returns the startup phase.
func (o *Orchestrator) Phase() chat.Phase { return o.state.Phase() }

// Session returns the current session.
func (o *Orchestrator) Session() chat.Session { return o.state.Session() }

// Identity returns the local participant.
func (o *Orchestrator) Identity() chat.Identity { return o.state.Identity() }

// ChannelStatus returns the realtime channel status.
func (o *Orchestrator) ChannelStatus() realtime.Status { return o.channel.Status() }

// Messages returns the conversation so far.
func (o *Orchestrator) Messages() []chat.Message { return o.log.Messages() }

// Close releases the channel.
func (o *Orchestrator) Close() error { return o.channel.Disconnect() }

func (o *Orchestrator) receive(msg chat.Message) {
	entry := o.log.Append(msg)
	o.renderer.Render(entry, entry.OwnedBy(o.state.Identity().Name))
}

func (o *Orchestrator) channelStatus(status realtime.Status, err error) {
	switch status {
	case realtime.Connected:
		o.state.advance(chat.Connected)
		o.logger.Info().Int64("session", o.state.SessionID()).Msg("chat connected")
	case realtime.Disconnected:
		if err != nil {
			o.logger.Warn().Err(err).Msg("chat connection lost")
			o.notifier.Notify(NoticeConnectionLost)
		}
	}
}

func (o *Orchestrator) adoptSession(id int64, source string) {
	prev, changed := o.state.adoptSession(id)
	if !changed {
		return
	}
	ev := o.logger.Info()
	if prev > 0 {
		ev = o.logger.Warn().Int64("previous", prev)
	}
	ev.Int64("session", id).Str("source", source).Msg("session adopted")
}

func (o *Orchestrator) persist(key, value string) {
	if err := o.store.Set(key, value); err != nil {
		o.logger.Error().Err(err).Str("key", key).Msg("persisting identity")
		o.notifier.Notify(NoticeStoreFailed)
	}
}

type discard struct{}

func (discard) Render(chat.Message, bool) {}
func (discard) Notify(string)             {}
