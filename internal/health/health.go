// Package health derives the user-facing connection status from the
// transport state.
package health

import (
	"sync"

	"github.com/DoyleJ11/quiz-chat/internal/transport"
)

type Status string

const (
	Connecting   Status = "connecting"
	Connected    Status = "connected"
	Disconnected Status = "disconnected"
)

// FromState maps a transport state onto a status.
func FromState(s transport.State) Status {
	switch s {
	case transport.Open:
		return Connected
	case transport.Connecting:
		return Connecting
	default:
		return Disconnected
	}
}

// Source is the slice of the transport session the indicator watches.
type Source interface {
	State() transport.State
	OnStateChange(transport.StateListener) func()
}

type Indicator struct {
	mu       sync.Mutex
	status   Status
	onChange []func(Status)
}

func NewIndicator() *Indicator {
	return &Indicator{status: Connecting}
}

// Attach seeds the indicator from src and follows its transitions until the
// returned func is called.
func (i *Indicator) Attach(src Source) func() {
	stop := src.OnStateChange(func(s transport.State) { i.Observe(s) })
	i.Observe(src.State())
	return stop
}

// Observe records a transport state. Repeated states are not re-announced.
func (i *Indicator) Observe(s transport.State) {
	next := FromState(s)
	i.mu.Lock()
	if next == i.status {
		i.mu.Unlock()
		return
	}
	i.status = next
	fns := append([]func(Status){}, i.onChange...)
	i.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

// OnChange registers fn for every future status change.
func (i *Indicator) OnChange(fn func(Status)) {
	i.mu.Lock()
	i.onChange = append(i.onChange, fn)
	i.mu.Unlock()
}

func (i *Indicator) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// CanSend gates message sending on a live connection.
func (i *Indicator) CanSend() bool { return i.Status() == Connected }
