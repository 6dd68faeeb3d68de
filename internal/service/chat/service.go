package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/travochat/internal/model/chat"
)

// Log is the append-only conversation history. Insertion order is arrival
// order; entries are never modified once appended.
type Log struct {
	mu       sync.RWMutex
	messages []chat.Message
}

// NewLog returns an empty conversation log.
func NewLog() *Log {
	return &Log{messages: make([]chat.Message, 0, 64)}
}

// Append stores message and returns the stored copy, with a local entry id
// and receive time filled in when missing.
func (l *Log) Append(message chat.Message) chat.Message {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.ReceivedAt.IsZero() {
		message.ReceivedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.messages = append(l.messages, message)
	l.mu.Unlock()
	return message
}

// Messages returns a snapshot of the log.
func (l *Log) Messages() []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	copied := make([]chat.Message, len(l.messages))
	copy(copied, l.messages)
	return copied
}

// Len returns the number of logged messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
