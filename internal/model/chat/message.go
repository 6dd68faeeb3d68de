package chat

import "time"

// Message is one conversation turn as carried on the realtime channel.
type Message struct {
	ID         string    `json:"-"`
	Content    string    `json:"content"`
	Sender     string    `json:"sender"`
	SessionID  int64     `json:"session,omitempty"`
	ReceivedAt time.Time `json:"-"`
}

// OwnedBy reports whether the message was sent under the given display name.
func (m Message) OwnedBy(name string) bool {
	return name != "" && m.Sender == name
}
