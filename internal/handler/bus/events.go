package bus

import (
	"net/http"
	"time"

	busService "github.com/zhouzirui/travochat/internal/service/bus"
	"github.com/zhouzirui/travochat/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// handleEvents streams published payloads as Server-Sent Events, for
// watching the bus from a browser or curl. ?topic= narrows the feed.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = busService.AllTopics
	}

	utils.SetupSSEHeaders(w)
	ctx := r.Context()
	events, _ := h.broadcaster.Subscribe(ctx, topic)
	h.logger.Info().Str("topic", topic).Msg("opening event stream")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "stream established", "topic": topic}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("topic", topic).Msg("closing event stream")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEData(w, flusher, "message", ev.Payload); err != nil {
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{"time": t.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		}
	}
}
