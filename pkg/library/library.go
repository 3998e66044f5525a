// Package library stores each user's ordered list of saved titles.
package library

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"hashland/pkg/persistence"
)

const librariesKey = "libraries"

// Item is an opaque client-supplied record. Only "id" is interpreted.
type Item map[string]interface{}

// ID returns the item's numeric id, if it has one.
func (it Item) ID() (int64, bool) {
	switch v := it["id"].(type) {
	case float64:
		return int64(v), v == float64(int64(v))
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// Store keeps libraries keyed by user id.
type Store struct {
	mu    sync.Mutex
	libs  map[string][]Item
	state *persistence.StateManager
	now   func() time.Time
}

// NewStore loads libraries from state.
func NewStore(state *persistence.StateManager) (*Store, error) {
	s := &Store{
		libs:  make(map[string][]Item),
		state: state,
		now:   time.Now,
	}
	if _, err := state.Get(librariesKey, &s.libs); err != nil {
		return nil, fmt.Errorf("failed to load libraries: %w", err)
	}
	if s.libs == nil {
		s.libs = make(map[string][]Item)
	}
	return s, nil
}

func key(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// List returns a copy of user's library in insertion order.
func (s *Store) List(user string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.libs[key(user)]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Add appends item, stamping addedAt (unix millis) and addedBy when set.
func (s *Store) Add(user string, item Item, addedBy string) error {
	if item == nil {
		return fmt.Errorf("item is required")
	}
	stored := make(Item, len(item)+2)
	for k, v := range item {
		stored[k] = v
	}
	stored["addedAt"] = s.now().UnixMilli()
	if addedBy != "" {
		stored["addedBy"] = addedBy
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(user)
	items := make([]Item, 0, len(s.libs[k])+1)
	items = append(items, s.libs[k]...)
	return s.commitLocked(k, append(items, stored))
}

// commitLocked persists libs with user k's list replaced and only then
// applies the change in memory.
func (s *Store) commitLocked(k string, items []Item) error {
	next := make(map[string][]Item, len(s.libs)+1)
	for u, v := range s.libs {
		next[u] = v
	}
	next[k] = items
	if err := s.state.Set(librariesKey, next); err != nil {
		return err
	}
	s.libs = next
	return nil
}

// Remove deletes every item of user whose id equals id. It returns how many
// items were removed.
func (s *Store) Remove(user string, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(user)
	items, ok := s.libs[k]
	if !ok {
		return 0, nil
	}
	kept := items[:0:0]
	for _, it := range items {
		if v, ok := it.ID(); ok && v == id {
			continue
		}
		kept = append(kept, it)
	}
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.commitLocked(k, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// Count returns the number of items in user's library.
func (s *Store) Count(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.libs[key(user)])
}
