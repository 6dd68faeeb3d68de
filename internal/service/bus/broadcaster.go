// Package bus fans chat payloads out to websocket subscribers of the reference
// service.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AllTopics subscribes to every published payload regardless of topic.
const AllTopics = "*"

const subscriberBufferSize = 64

// Event is one published payload.
type Event struct {
	Topic   string
	Payload []byte
}

// Broadcaster is an in-memory topic pub/sub. Publishing never blocks; a
// subscriber whose buffer is full is evicted and its channel closed, so the
// peer behind it sees a disconnect instead of a gap in the stream.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // topic -> subID -> ch
	logger      zerolog.Logger
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers for topic. The subscription ends when ctx is done or
// Unsubscribe is called, which closes the returned channel.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan Event, string) {
	subID := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug().Str("topic", topic).Str("sub_id", subID).Msg("subscriber added")

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()
	return ch, subID
}

// Publish delivers payload to the subscribers of topic and of AllTopics. It
// returns the number of deliveries.
func (b *Broadcaster) Publish(topic string, payload []byte) int {
	ev := Event{Topic: topic, Payload: payload}

	type lagging struct{ topic, subID string }
	var evict []lagging

	// Sends are non-blocking, so holding the read lock keeps Unsubscribe from
	// closing a channel mid-send.
	b.mu.RLock()
	delivered := 0
	for _, key := range []string{topic, AllTopics} {
		for subID, ch := range b.subscribers[key] {
			select {
			case ch <- ev:
				delivered++
			default:
				evict = append(evict, lagging{key, subID})
			}
		}
	}
	b.mu.RUnlock()

	for _, l := range evict {
		b.logger.Warn().Str("topic", l.topic).Str("sub_id", l.subID).Msg("evicting slow subscriber")
		b.Unsubscribe(l.topic, l.subID)
	}
	return delivered
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
	b.logger.Debug().Str("topic", topic).Str("sub_id", subID).Msg("subscriber removed")
}

// Subscribers returns the number of subscriptions on topic.
func (b *Broadcaster) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
