// Package typing implements both directions of the typing indicator: the
// debounced local signal and the self-expiring set of remote typers.
package typing

import (
	"slices"
	"strings"
	"time"
)

const (
	DefaultDebounce = time.Second
	DefaultTTL      = 3 * time.Second
)

type Entry struct {
	DisplayName string
	ExpiresAt   time.Time
}

// Tracker holds remote users currently typing. Entries expire on their own
// because a stop signal is not guaranteed to arrive. Not safe for concurrent
// use.
type Tracker struct {
	ttl     time.Duration
	entries map[string]Entry
}

// NewTracker returns a tracker whose entries live for ttl after the last
// start signal. ttl must be strictly greater than the sender's debounce.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{ttl: ttl, entries: make(map[string]Entry)}
}

// Key picks the map key for a remote typer: the user id when the server sent
// one, the display name otherwise.
func Key(userID, displayName string) string {
	if id := strings.TrimSpace(userID); id != "" {
		return "id:" + id
	}
	return "name:" + strings.TrimSpace(displayName)
}

// Start inserts or refreshes key with an expiry of now+ttl.
func (t *Tracker) Start(key, displayName string, now time.Time) {
	t.entries[key] = Entry{DisplayName: displayName, ExpiresAt: now.Add(t.ttl)}
}

// Stop removes key and reports whether it was present.
func (t *Tracker) Stop(key string) bool {
	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// Sweep drops every entry whose expiry is not after now and returns how many
// were removed. Sweeping twice is a no-op the second time.
func (t *Tracker) Sweep(now time.Time) int {
	removed := 0
	for key, e := range t.entries {
		if !e.ExpiresAt.After(now) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

func (t *Tracker) Reset() { clear(t.entries) }

func (t *Tracker) Len() int { return len(t.entries) }

// Names returns the display names currently typing, sorted.
func (t *Tracker) Names() []string {
	names := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		names = append(names, e.DisplayName)
	}
	slices.Sort(names)
	return names
}
