package typing

import (
	"sync"
	"time"
)

// Publish sends typing-start (true) or typing-stop (false). It is called with
// the Signaler's lock held so start/stop reach the transport in order; it
// must not block or call back into the Signaler.
type Publish func(typing bool)

// Signaler turns keystrokes into at most one start and one stop per burst of
// typing. The debounce timer is owned by the Signaler and cancelled by Stop.
type Signaler struct {
	debounce time.Duration
	publish  Publish

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	gen    uint64
}

func NewSignaler(debounce time.Duration, publish Publish) *Signaler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Signaler{debounce: debounce, publish: publish}
}

// Keystroke records local activity.
func (s *Signaler) Keystroke() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.expire(gen) })

	if !s.typing {
		s.typing = true
		s.publish(true)
	}
}

// expire fires when the debounce elapsed; a stale generation means another
// keystroke or Stop got there first.
func (s *Signaler) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || !s.typing {
		return
	}
	s.typing = false
	s.timer = nil
	s.publish(false)
}

// Stop cancels the pending timer and publishes typing-stop if a start was
// sent. Used on message submit and room leave.
func (s *Signaler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.cancelLocked()
	if was {
		s.publish(false)
	}
}

// Cancel drops the pending timer without publishing anything. Used when the
// connection is already gone.
func (s *Signaler) Cancel() {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
}

func (s *Signaler) cancelLocked() bool {
	was := s.typing
	s.typing = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return was
}

func (s *Signaler) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}
