// Package presence keeps the set of users currently in a room.
package presence

import (
	"cmp"
	"slices"
	"strings"

	"github.com/DoyleJ11/quiz-chat/pkg/types"
)

// Roster is unique by user id. It is not safe for concurrent use; the room
// client owns it from a single goroutine.
type Roster struct {
	entries map[string]types.PresenceEntry
}

func NewRoster() *Roster {
	return &Roster{entries: make(map[string]types.PresenceEntry)}
}

// ApplySnapshot replaces the whole roster. Entries without a user id are
// skipped; a repeated user id keeps the last display name seen.
func (r *Roster) ApplySnapshot(entries []types.PresenceEntry) {
	next := make(map[string]types.PresenceEntry, len(entries))
	for _, e := range entries {
		if id := strings.TrimSpace(e.UserID); id != "" {
			e.UserID = id
			next[id] = e
		}
	}
	r.entries = next
}

// ApplyJoin inserts e if absent and reports whether the roster changed.
func (r *Roster) ApplyJoin(e types.PresenceEntry) bool {
	id := strings.TrimSpace(e.UserID)
	if id == "" {
		return false
	}
	if _, ok := r.entries[id]; ok {
		return false
	}
	e.UserID = id
	r.entries[id] = e
	return true
}

// ApplyLeave removes userID if present.
func (r *Roster) ApplyLeave(userID string) bool {
	id := strings.TrimSpace(userID)
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *Roster) Reset() { clear(r.entries) }

func (r *Roster) Len() int { return len(r.entries) }

// List returns a copy sorted by display name, then user id, for display.
func (r *Roster) List() []types.PresenceEntry {
	out := make([]types.PresenceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b types.PresenceEntry) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)),
			cmp.Compare(a.UserID, b.UserID),
		)
	})
	return out
}
