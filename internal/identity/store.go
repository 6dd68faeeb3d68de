// Package identity persists the widget's identity preferences between runs.
package identity

import (
	"strconv"
	"strings"
	"sync"

	"github.com/zhouzirui/travochat/internal/model/chat"
)

// Preference keys shared with the browser widget's local storage layout.
const (
	KeyName   = "name"
	KeyEmail  = "email"
	KeyUserID = "id"
)

// Store is a synchronous string key/value store. Missing keys read as "".
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Load assembles the stored identity. Unknown keys are left empty.
func Load(s Store) (chat.Identity, error) {
	var id chat.Identity
	var err error
	if id.Name, err = s.Get(KeyName); err != nil {
		return chat.Identity{}, err
	}
	if id.Email, err = s.Get(KeyEmail); err != nil {
		return chat.Identity{}, err
	}
	if id.UserID, err = s.Get(KeyUserID); err != nil {
		return chat.Identity{}, err
	}
	return id, nil
}

// StoredUserID parses the persisted user id. It returns 0 when the value is
// missing or not an integer, matching how the widget treats "0" as unknown.
func StoredUserID(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// MemoryStore keeps preferences in a map, suitable for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied values.
func NewMemoryStore(seed map[string]string) *MemoryStore {
	items := make(map[string]string, len(seed))
	for k, v := range seed {
		items[k] = v
	}
	return &MemoryStore{items: items}
}

// Get returns the stored value or "".
func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key], nil
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	return nil
}
