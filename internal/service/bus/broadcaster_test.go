package bus

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesTopicAndWildcard(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic, _ := b.Subscribe(ctx, "/topic/messages")
	all, _ := b.Subscribe(ctx, AllTopics)
	other, _ := b.Subscribe(ctx, "/topic/other")

	n := b.Publish("/topic/messages", []byte(`{"content":"hi"}`))
	assert.Equal(t, 2, n)

	assert.Equal(t, `{"content":"hi"}`, string(receive(t, topic).Payload))
	assert.Equal(t, "/topic/messages", receive(t, all).Topic)
	assert.Empty(t, other)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	ch, id := b.Subscribe(context.Background(), "t")

	b.Unsubscribe("t", id)
	b.Unsubscribe("t", id)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers("t"))
}

func TestContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "t")

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers("t") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	slow, _ := b.Subscribe(ctx, "t")
	fast, _ := b.Subscribe(ctx, AllTopics)

	for i := 0; i < subscriberBufferSize; i++ {
		require.Equal(t, 2, b.Publish("t", []byte("x")))
		<-fast
	}
	assert.Equal(t, 1, b.Publish("t", []byte("overflow")))
	assert.Zero(t, b.Subscribers("t"))
	assert.Equal(t, 1, b.Subscribers(AllTopics))

	received := 0
	for range slow {
		received++
	}
	assert.Equal(t, subscriberBufferSize, received)

	ev := <-fast
	assert.Equal(t, []byte("overflow"), ev.Payload)
}
