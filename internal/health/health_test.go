package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DoyleJ11/quiz-chat/internal/transport"
)

type fakeSource struct {
	mu        sync.Mutex
	state     transport.State
	listeners []transport.StateListener
}

func (f *fakeSource) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) OnStateChange(l transport.StateListener) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	idx := len(f.listeners) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners[idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeSource) set(s transport.State) {
	f.mu.Lock()
	f.state = s
	ls := append([]transport.StateListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		if l != nil {
			l(s)
		}
	}
}

func TestFromState(t *testing.T) {
	cases := []struct {
		in   transport.State
		want Status
	}{
		{transport.Connecting, Connecting},
		{transport.Open, Connected},
		{transport.Closed, Disconnected},
		{transport.State(42), Disconnected},
	}
	for _, tc := range cases {
		if got := FromState(tc.in); got != tc.want {
			t.Fatalf("FromState(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIndicator_FollowsSource(t *testing.T) {
	src := &fakeSource{state: transport.Closed}
	ind := NewIndicator()
	assert.Equal(t, Connecting, ind.Status())

	var seen []Status
	ind.OnChange(func(s Status) { seen = append(seen, s) })

	stop := ind.Attach(src)
	assert.Equal(t, Disconnected, ind.Status())
	assert.False(t, ind.CanSend())

	src.set(transport.Connecting)
	src.set(transport.Open)
	assert.True(t, ind.CanSend())

	src.set(transport.Open)
	src.set(transport.Closed)
	assert.Equal(t, []Status{Disconnected, Connecting, Connected, Disconnected}, seen)

	stop()
	src.set(transport.Open)
	assert.Equal(t, Disconnected, ind.Status())
}
