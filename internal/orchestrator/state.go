package orchestrator

import (
	"sync"

	"github.com/zhouzirui/travochat/internal/model/chat"
)

// Widget is the mutable state of one widget instance. The orchestrator owns it
// and hands it to the realtime channel as its session source. Every mutation
// checks the current value first because completion paths interleave.
type Widget struct {
	mu       sync.RWMutex
	identity chat.Identity
	session  chat.Session
	phase    chat.Phase
}

// NewWidget returns a widget in the Bootstrapping phase with no session.
func NewWidget() *Widget {
	return &Widget{}
}

// SessionID returns the current session id, 0 when none is established.
func (w *Widget) SessionID() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session.ID
}

// Session returns the current session.
func (w *Widget) Session() chat.Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session
}

// Identity returns the local participant.
func (w *Widget) Identity() chat.Identity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.identity
}

// Phase returns the startup phase.
func (w *Widget) Phase() chat.Phase {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.phase
}

func (w *Widget) setIdentity(id chat.Identity) {
	w.mu.Lock()
	w.identity = id
	w.mu.Unlock()
}

func (w *Widget) setUserID(userID string) {
	w.mu.Lock()
	w.identity.UserID = userID
	w.mu.Unlock()
}

// adoptSession installs id when it is positive and differs from the current
// one. It returns the previous id and whether anything changed.
func (w *Widget) adoptSession(id int64) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.session.ID
	if id <= 0 || id == prev {
		return prev, false
	}
	w.session = chat.Session{ID: id}
	return prev, true
}

// advance moves the phase forward; it never moves back.
func (w *Widget) advance(p chat.Phase) {
	w.mu.Lock()
	if p > w.phase {
		w.phase = p
	}
	w.mu.Unlock()
}
