// Package realtime owns the persistent connection to the chat message bus.
//
// A Channel holds at most one connection. Connect is guarded by the channel
// status so that redundant calls from racing completion paths never open a
// second connection or a second subscription. Inbound messages are read on a
// single goroutine and handed to every registered handler in arrival order.
//
// A dropped connection moves the channel to Disconnected and notifies status
// observers. The channel never reconnects on its own; observers that want
// recovery call Connect again.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/travochat/internal/config"
	"github.com/zhouzirui/travochat/internal/model/chat"
)

// Status is the lifecycle state of the channel's connection.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Scope decides whether the subscription is shared by all sessions or bound
// to the current one.
type Scope string

const (
	// ScopeBroadcast subscribes to one topic shared by every session and
	// delivers everything received on it.
	ScopeBroadcast Scope = "broadcast"
	// ScopeSession substitutes {session} in the topic and drops inbound
	// messages tagged with another session.
	ScopeSession Scope = "session"
)

// ErrNotConnected is matched by errors.Is for every NotConnectedError.
var ErrNotConnected = errors.New("realtime channel not connected")

// errConnectAborted is returned when Disconnect wins against an in-flight Connect.
var errConnectAborted = errors.New("connect aborted by disconnect")

// NotConnectedError rejects a send attempted outside the Connected state.
type NotConnectedError struct {
	Status Status
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("realtime channel not connected (status %s)", e.Status)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// Handler receives one inbound message.
type Handler func(chat.Message)

// StatusObserver is told about every status transition. err is set when the
// transition was caused by a failure.
type StatusObserver func(status Status, err error)

// SessionSource exposes the session id the channel is currently serving.
type SessionSource interface {
	SessionID() int64
}

// Options configures a Channel.
type Options struct {
	URL         string
	Protocol    string
	Topic       string
	Destination string
	Scope       Scope
	// Dialer defaults to a WebsocketDialer built from the timeouts below.
	Dialer Dialer

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// OptionsFromConfig maps the realtime config section onto Options.
func OptionsFromConfig(cfg config.RealtimeConfig) Options {
	return Options{
		URL:              cfg.URL,
		Protocol:         cfg.Protocol,
		Topic:            cfg.Topic,
		Destination:      cfg.Destination,
		Scope:            Scope(cfg.Scope),
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		PingInterval:     cfg.PingInterval,
	}
}

// Channel is the widget's single connection to the message bus.
type Channel struct {
	opts    Options
	dialer  Dialer
	proto   protocol
	session SessionSource
	logger  zerolog.Logger

	mu        sync.Mutex
	status    Status
	conn      Conn
	attempt   uint64
	handlers  []Handler
	observers []StatusObserver

	writeMu sync.Mutex
}

// New builds a disconnected Channel. session may be nil when Scope is broadcast.
func New(opts Options, session SessionSource, logger zerolog.Logger) (*Channel, error) {
	if opts.URL == "" {
		return nil, errors.New("realtime url is required")
	}
	if opts.Scope == "" {
		opts.Scope = ScopeBroadcast
	}
	if opts.Scope == ScopeSession && session == nil {
		return nil, errors.New("session scope requires a session source")
	}

	proto, err := newProtocol(opts.Protocol, opts.Destination)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &WebsocketDialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadTimeout:      opts.ReadTimeout,
			WriteTimeout:     opts.WriteTimeout,
			PingInterval:     opts.PingInterval,
		}
	}

	return &Channel{
		opts:    opts,
		dialer:  dialer,
		proto:   proto,
		session: session,
		logger:  logger.With().Str("component", "realtime").Logger(),
	}, nil
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnMessage registers a handler. Every handler sees every message.
func (c *Channel) OnMessage(h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

// OnStatus registers a status observer.
func (c *Channel) OnStatus(o StatusObserver) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Connect opens the connection and subscribes. It is a no-op while the
// channel is already Connecting or Connected.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != Disconnected {
		status := c.status
		c.mu.Unlock()
		c.logger.Debug().Stringer("status", status).Msg("connect ignored")
		return nil
	}
	c.status = Connecting
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()
	c.notify(Connecting, nil)

	topic := c.topic()
	c.logger.Info().Str("url", c.opts.URL).Str("topic", topic).Msg("connecting to message bus")

	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err == nil {
		if err = c.proto.open(conn, c.opts.URL, topic); err != nil {
			conn.Close()
		}
	}
	if err != nil {
		c.mu.Lock()
		aborted := c.attempt != attempt
		if !aborted {
			c.status = Disconnected
		}
		c.mu.Unlock()
		if !aborted {
			c.notify(Disconnected, err)
		}
		c.logger.Warn().Err(err).Msg("connect failed")
		return fmt.Errorf("connecting to %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		conn.Close()
		return errConnectAborted
	}
	c.conn = conn
	c.status = Connected
	c.mu.Unlock()

	c.logger.Info().Msg("connected to message bus")
	c.notify(Connected, nil)

	go c.readLoop(conn)
	return nil
}

// Send transmits msg. It fails with a NotConnectedError unless Connected.
func (c *Channel) Send(_ context.Context, msg chat.Message) error {
	c.mu.Lock()
	conn, status := c.conn, c.status
	c.mu.Unlock()

	if status != Connected || conn == nil {
		return &NotConnectedError{Status: status}
	}

	data, err := c.proto.encode(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("send failed")
		return fmt.Errorf("sending message: %w", err)
	}

	c.logger.Debug().Int64("session", msg.SessionID).Msg("message sent")
	return nil
}

// Disconnect releases the connection. Calling it when already disconnected
// does nothing.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	if c.status == Disconnected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.status = Disconnected
	c.attempt++
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		c.proto.close(conn)
		c.writeMu.Unlock()
		err = conn.Close()
	}

	c.logger.Info().Msg("disconnected from message bus")
	c.notify(Disconnected, nil)
	return err
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}

		msg, ok, err := c.proto.decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("discarding inbound frame")
			continue
		}
		if !ok {
			continue
		}

		if c.opts.Scope == ScopeSession {
			if current := c.session.SessionID(); msg.SessionID != current {
				c.logger.Debug().Int64("session", msg.SessionID).Int64("current", current).Msg("dropping message for other session")
				continue
			}
		}

		msg.ReceivedAt = time.Now().UTC()
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg chat.Message) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// dropped handles a read failure. A deliberate Disconnect has already
// detached conn, in which case nothing is reported.
func (c *Channel) dropped(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = Disconnected
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn().Err(err).Msg("connection dropped")
	c.notify(Disconnected, err)
}

func (c *Channel) notify(status Status, err error) {
	c.mu.Lock()
	observers := append([]StatusObserver(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o(status, err)
	}
}

func (c *Channel) topic() string {
	if c.opts.Scope != ScopeSession {
		return c.opts.Topic
	}
	return strings.ReplaceAll(c.opts.Topic, "{session}", strconv.FormatInt(c.session.SessionID(), 10))
}
