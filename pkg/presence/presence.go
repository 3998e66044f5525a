// Package presence tracks the last-known liveness of user identifiers.
package presence

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Record is the presence of one user. ConnID names the connection that
// last claimed the user.
type Record struct {
	UserID   string    `json:"userId"`
	ConnID   string    `json:"connId,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
	Status   string    `json:"status"`
}

// Tracker holds presence records keyed by case-folded user id.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewTracker creates an empty tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// WithClock replaces the tracker clock. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
	return t
}

func normalize(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}

// Touch marks userID online on connID. The latest caller owns the record.
func (t *Tracker) Touch(userID, connID string) {
	key := normalize(userID)
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[key] = &Record{
		UserID:   key,
		ConnID:   connID,
		LastSeen: t.now(),
		Status:   StatusOnline,
	}
}

// Release marks userID offline if the record still belongs to connID.
// It reports whether the record was changed.
func (t *Tracker) Release(userID, connID string) bool {
	key := normalize(userID)
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	if !ok || rec.ConnID != connID || rec.Status == StatusOffline {
		return false
	}
	rec.Status = StatusOffline
	rec.ConnID = ""
	return true
}

// Get returns a copy of the record for userID.
func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[normalize(userID)]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsOnline reports whether userID currently has a live connection.
func (t *Tracker) IsOnline(userID string) bool {
	rec, ok := t.Get(userID)
	return ok && rec.Status == StatusOnline
}

// Snapshot returns all records sorted by user id.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
