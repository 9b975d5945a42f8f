package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) publish(typing bool) {
	r.mu.Lock()
	r.events = append(r.events, typing)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestSignaler_OneStartOneStopPerPause(t *testing.T) {
	rec := &recorder{}
	debounce := 50 * time.Millisecond
	s := NewSignaler(debounce, rec.publish)

	// A burst of keystrokes well inside the debounce window.
	for i := 0; i < 5; i++ {
		s.Keystroke()
		time.Sleep(debounce / 5)
	}
	assert.Equal(t, []bool{true}, rec.snapshot())
	assert.True(t, s.Typing())

	// Pause longer than the debounce (1.2x, as in a 1.2s pause over 1s).
	time.Sleep(debounce * 12 / 10)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
	assert.False(t, s.Typing())

	// Nothing else fires afterwards.
	time.Sleep(2 * debounce)
	assert.Len(t, rec.snapshot(), 2)
}

func TestSignaler_StopCancelsTimer(t *testing.T) {
	rec := &recorder{}
	s := NewSignaler(40*time.Millisecond, rec.publish)

	s.Keystroke()
	s.Stop()
	s.Stop()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestSignaler_CancelIsSilent(t *testing.T) {
	rec := &recorder{}
	s := NewSignaler(30*time.Millisecond, rec.publish)

	s.Keystroke()
	s.Cancel()
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, []bool{true}, rec.snapshot())
	assert.False(t, s.Typing())
}

func TestSignaler_StopWithoutTypingPublishesNothing(t *testing.T) {
	rec := &recorder{}
	NewSignaler(0, rec.publish).Stop()
	assert.Empty(t, rec.snapshot())
}

func TestTracker_StartStopAndExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(3 * time.Second)

	tr.Start(Key("", "Alice"), "Alice", now)
	tr.Start(Key("b", "Bob"), "Bob", now)
	assert.Equal(t, []string{"Alice", "Bob"}, tr.Names())

	assert.True(t, tr.Stop(Key("b", "Bob")))
	assert.False(t, tr.Stop(Key("b", "Bob")))

	// Not yet expired.
	assert.Zero(t, tr.Sweep(now.Add(2*time.Second)))
	assert.Equal(t, []string{"Alice"}, tr.Names())

	// Stop never arrived: passive expiry removes it, and a second sweep is a no-op.
	assert.Equal(t, 1, tr.Sweep(now.Add(3*time.Second)))
	assert.Zero(t, tr.Sweep(now.Add(4*time.Second)))
	assert.Zero(t, tr.Len())
}

func TestTracker_RefreshExtendsExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Second)

	tr.Start(Key("", "Alice"), "Alice", now)
	tr.Start(Key("", "Alice"), "Alice", now.Add(800*time.Millisecond))

	assert.Zero(t, tr.Sweep(now.Add(1500*time.Millisecond)))
	assert.Equal(t, 1, tr.Sweep(now.Add(1800*time.Millisecond)))
}

func TestKey_PrefersUserID(t *testing.T) {
	assert.Equal(t, "id:a", Key("a", "Alice"))
	assert.Equal(t, "name:Alice", Key(" ", "Alice"))
	assert.NotEqual(t, Key("a", "Sam"), Key("b", "Sam"))
}
