// Package bus serves the reference message bus over websockets. /connect
// speaks raw JSON text frames; /ws and /ws/websocket speak STOMP 1.2. /events
// mirrors the bus as Server-Sent Events.
package bus

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	busService "github.com/zhouzirui/travochat/internal/service/bus"
)

// Options configures topic routing.
type Options struct {
	// Topic is where chat payloads are published. {session} is replaced by
	// the payload's session.
	Topic string
	// Destination is the application destination STOMP clients SEND to.
	Destination  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Handler upgrades bus connections.
type Handler struct {
	broadcaster *busService.Broadcaster
	opts        Options
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// New creates a bus handler.
func New(b *busService.Broadcaster, opts Options, logger zerolog.Logger) *Handler {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Handler{
		broadcaster: b,
		opts:        opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// RegisterRoutes mounts the websocket endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/connect", h.handleRaw)
	r.Get("/ws", h.handleSTOMP)
	r.Get("/ws/websocket", h.handleSTOMP)
	r.Get("/events", h.handleEvents)
}

// peer is one upgraded connection. gorilla allows a single concurrent writer.
type peer struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration
	writeMu sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) ping() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.timeout))
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) (*peer, context.Context, context.CancelFunc, bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return nil, nil, nil, false
	}

	p := &peer{id: uuid.NewString(), conn: conn, timeout: h.opts.WriteTimeout}
	ctx, cancel := context.WithCancel(r.Context())

	conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		return nil
	})
	go h.pingLoop(ctx, p)

	h.logger.Info().Str("peer", p.id).Str("path", r.URL.Path).Msg("peer connected")
	return p, ctx, cancel, true
}

func (h *Handler) release(p *peer, cancel context.CancelFunc) {
	cancel()
	p.conn.Close()
	h.logger.Info().Str("peer", p.id).Msg("peer disconnected")
}

func (h *Handler) pingLoop(ctx context.Context, p *peer) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ping(); err != nil {
				h.logger.Debug().Err(err).Str("peer", p.id).Msg("ping failed")
				return
			}
		}
	}
}

func (h *Handler) readMessage(p *peer) ([]byte, error) {
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
			h.logger.Warn().Err(err).Str("peer", p.id).Msg("read error")
		}
		return nil, err
	}
	p.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	return data, nil
}

// forward writes every event to p until events is closed or a write fails.
// events closing while ctx is still live means the broadcaster evicted the
// subscription, so the connection is dropped.
func forward(ctx context.Context, p *peer, events <-chan busService.Event, render func(busService.Event) []byte) {
	for ev := range events {
		if err := p.write(render(ev)); err != nil {
			return
		}
	}
	if ctx.Err() == nil {
		p.conn.Close()
	}
}

// topicFor resolves the publish topic of a chat payload.
func (h *Handler) topicFor(payload []byte) string {
	if !strings.Contains(h.opts.Topic, "{session}") {
		return h.opts.Topic
	}
	return strings.ReplaceAll(h.opts.Topic, "{session}", gjson.GetBytes(payload, "session").String())
}

func (h *Handler) handleRaw(w http.ResponseWriter, r *http.Request) {
	p, ctx, cancel, ok := h.accept(w, r)
	if !ok {
		return
	}
	defer h.release(p, cancel)

	events, _ := h.broadcaster.Subscribe(ctx, busService.AllTopics)
	go forward(ctx, p, events, func(ev busService.Event) []byte { return ev.Payload })

	for {
		data, err := h.readMessage(p)
		if err != nil {
			return
		}
		if !gjson.ValidBytes(data) {
			h.logger.Debug().Str("peer", p.id).Msg("ignoring non-json frame")
			continue
		}
		h.broadcaster.Publish(h.topicFor(data), data)
	}
}
