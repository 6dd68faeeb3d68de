// Package registry keeps the users and sessions of the reference chat service.
package registry

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidInput = errors.New("name and email are required")
)

// User is a registered participant and the session it currently holds.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	SessionID int64     `json:"session"`
	CreatedAt time.Time `json:"createdAt"`
}

// Registry is an in-memory user and session registry. User and session ids
// are sequential positive integers.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*User
	byEmail     map[string]*User
	lastUser    int64
	lastSession int64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID:    make(map[string]*User),
		byEmail: make(map[string]*User),
	}
}

// Register creates a user and opens its first session.
func (r *Registry) Register(_ context.Context, name, email string) (User, error) {
	name = strings.TrimSpace(name)
	key := normalizeEmail(email)
	if name == "" || key == "" {
		return User{}, ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[key]; exists {
		return User{}, ErrEmailTaken
	}

	r.lastUser++
	r.lastSession++
	u := &User{
		ID:        strconv.FormatInt(r.lastUser, 10),
		Name:      name,
		Email:     strings.TrimSpace(email),
		SessionID: r.lastSession,
		CreatedAt: time.Now().UTC(),
	}
	r.byID[u.ID] = u
	r.byEmail[key] = u
	return *u, nil
}

// Lookup finds a user by email.
func (r *Registry) Lookup(_ context.Context, email string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Start returns the user's session, opening one when it has none. Repeated
// calls return the same session.
func (r *Registry) Start(_ context.Context, userID string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[strings.TrimSpace(userID)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if u.SessionID == 0 {
		r.lastSession++
		u.SessionID = r.lastSession
	}
	return *u, nil
}

// End closes the user's session.
func (r *Registry) End(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[strings.TrimSpace(userID)]
	if !ok {
		return ErrUserNotFound
	}
	u.SessionID = 0
	return nil
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
