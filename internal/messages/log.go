// Package messages holds a room's chat log: one history fetch plus live
// pushes, ordered by server sequence and de-duplicated by message id.
package messages

import (
	"cmp"
	"slices"
	"strings"

	"github.com/DoyleJ11/quiz-chat/pkg/types"
)

// Log is append-only from the caller's point of view; it only ever grows by
// Append or is wholesale replaced by a fresh history fetch. Not safe for
// concurrent use.
type Log struct {
	msgs []types.Message
	ids  map[string]struct{}
}

func NewLog() *Log {
	return &Log{ids: make(map[string]struct{})}
}

// compare orders by server sequence, then creation time, then id. Messages
// without a sequence fall back to time so servers that only stamp createdAt
// still sort correctly.
func compare(a, b types.Message) int {
	if a.Seq != 0 && b.Seq != 0 {
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Replace seeds the log from a history fetch, discarding what was there.
// The fetched order is kept as-is; the server already sorted it.
func (l *Log) Replace(history []types.Message) {
	l.msgs = make([]types.Message, 0, len(history))
	l.ids = make(map[string]struct{}, len(history))
	for _, m := range history {
		if _, dup := l.ids[m.ID]; dup || strings.TrimSpace(m.ID) == "" {
			continue
		}
		l.ids[m.ID] = struct{}{}
		l.msgs = append(l.msgs, m)
	}
}

// Append inserts m at its ordered position. It returns false when m has no
// id or its id is already in the log, which is what happens when a rejoin
// replays events already fetched or rendered.
func (l *Log) Append(m types.Message) bool {
	if strings.TrimSpace(m.ID) == "" {
		return false
	}
	if _, dup := l.ids[m.ID]; dup {
		return false
	}
	l.ids[m.ID] = struct{}{}

	// Live messages nearly always belong at the tail.
	if n := len(l.msgs); n == 0 || compare(l.msgs[n-1], m) <= 0 {
		l.msgs = append(l.msgs, m)
		return true
	}
	i, _ := slices.BinarySearchFunc(l.msgs, m, compare)
	l.msgs = slices.Insert(l.msgs, i, m)
	return true
}

func (l *Log) Len() int { return len(l.msgs) }

func (l *Log) Reset() {
	l.msgs = nil
	clear(l.ids)
}

// Messages returns a copy of the log in display order.
func (l *Log) Messages() []types.Message {
	return slices.Clone(l.msgs)
}

