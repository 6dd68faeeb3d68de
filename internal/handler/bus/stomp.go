package bus

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	busService "github.com/zhouzirui/travochat/internal/service/bus"
	"github.com/zhouzirui/travochat/internal/stomp"
)

// stompSession is the per-connection STOMP state.
type stompSession struct {
	h         *Handler
	p         *peer
	ctx       context.Context
	connected bool
	subs      map[string]context.CancelFunc
}

func (h *Handler) handleSTOMP(w http.ResponseWriter, r *http.Request) {
	p, ctx, cancel, ok := h.accept(w, r)
	if !ok {
		return
	}
	defer h.release(p, cancel)

	s := &stompSession{h: h, p: p, ctx: ctx, subs: make(map[string]context.CancelFunc)}
	for {
		data, err := h.readMessage(p)
		if err != nil {
			return
		}
		f, err := stomp.Unmarshal(data)
		if err != nil {
			s.fail("malformed frame")
			return
		}
		if !s.handle(f) {
			return
		}
	}
}

// handle processes one frame and reports whether the connection stays open.
func (s *stompSession) handle(f stomp.Frame) bool {
	if f.Command == "" {
		return true
	}
	if !s.connected && f.Command != stomp.Connect && f.Command != "STOMP" {
		s.fail("not connected")
		return false
	}

	switch f.Command {
	case stomp.Connect, "STOMP":
		s.connected = true
		s.p.write(stomp.New(stomp.Connected, "version", "1.2", "heart-beat", "0,0", "server", "travochat").Marshal())
		return true

	case stomp.Subscribe:
		id, dest := f.Header.Get("id"), f.Header.Get("destination")
		if id == "" || dest == "" {
			s.fail("SUBSCRIBE requires id and destination")
			return false
		}
		if _, dup := s.subs[id]; dup {
			s.fail("duplicate subscription id " + id)
			return false
		}
		subCtx, cancel := context.WithCancel(s.ctx)
		s.subs[id] = cancel
		events, _ := s.h.broadcaster.Subscribe(subCtx, dest)
		go forward(subCtx, s.p, events, func(ev busService.Event) []byte {
			msg := stomp.New(stomp.Message,
				"subscription", id,
				"message-id", uuid.NewString(),
				"destination", ev.Topic,
				"content-type", "application/json",
			)
			msg.Body = ev.Payload
			return msg.Marshal()
		})
		s.h.logger.Debug().Str("peer", s.p.id).Str("destination", dest).Msg("subscribed")

	case stomp.Unsubscribe:
		if cancel, ok := s.subs[f.Header.Get("id")]; ok {
			cancel()
			delete(s.subs, f.Header.Get("id"))
		}

	case stomp.Send:
		dest := f.Header.Get("destination")
		if dest == "" {
			s.fail("SEND requires destination")
			return false
		}
		topic := dest
		if dest == s.h.opts.Destination {
			topic = s.h.topicFor(f.Body)
		}
		s.h.broadcaster.Publish(topic, f.Body)

	case stomp.Disconnect:
		s.receipt(f)
		return false

	default:
		s.fail("unsupported command " + f.Command)
		return false
	}

	s.receipt(f)
	return true
}

func (s *stompSession) receipt(f stomp.Frame) {
	if id := f.Header.Get("receipt"); id != "" {
		s.p.write(stomp.New(stomp.Receipt, "receipt-id", id).Marshal())
	}
}

func (s *stompSession) fail(message string) {
	s.h.logger.Warn().Str("peer", s.p.id).Str("reason", message).Msg("stomp error")
	s.p.write(stomp.New(stomp.Error, "message", message).Marshal())
}
