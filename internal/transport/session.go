// Package transport owns the one persistent websocket to the realtime server
// and exposes it as named events plus a three-state connection lifecycle.
package transport

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-chat/internal/types"
)

var ErrAlreadyRunning = errors.New("transport session already running")

type State int

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives the raw data of one inbound event.
type Handler func(data []byte)

// StateListener observes connection state transitions.
type StateListener func(State)

type Config struct {
	URL          string
	Token        string
	Header       http.Header
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	SendBuffer   int
	ReadLimit    int64
	Logger       *zap.Logger
}

func (c *Config) withDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(30*time.Second, c.MinBackoff)
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type subscription[T any] struct {
	id uint64
	fn T
}

// Session is safe for concurrent use. Event handlers and state listeners are
// all invoked from the goroutine running Run, one at a time, in the order the
// server sent the events.
type Session struct {
	cfg    Config
	logger *zap.Logger

	running atomic.Bool

	mu        sync.Mutex
	state     State
	sessionID string
	out       chan []byte
	nextID    uint64
	handlers  map[string][]subscription[Handler]
	listeners []subscription[StateListener]
}

func NewSession(cfg Config) *Session {
	cfg.withDefaults()
	return &Session{
		cfg:      cfg,
		logger:   cfg.Logger.With(zap.String("component", "transport")),
		state:    Closed,
		handlers: make(map[string][]subscription[Handler]),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID is an opaque id of the current connection; empty when not open.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Run keeps the connection up until ctx is done, reconnecting with
// exponential backoff. It returns ctx's error.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.MinBackoff
	b.MaxInterval = s.cfg.MaxBackoff

	for {
		s.setState(Connecting)
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Debug("dial failed", zap.Error(err))
			s.setState(Closed)
		} else {
			b.Reset()
			err = s.serve(ctx, conn)
			s.logger.Info("connection lost", zap.Error(err))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := s.cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(s.cfg.ReadLimit)
	return conn, nil
}

// serve runs one connection until it fails or ctx is done. The read loop
// stays on the caller's goroutine so dispatch and state changes share one
// timeline.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan []byte, s.cfg.SendBuffer)
	s.mu.Lock()
	s.out = out
	s.sessionID = uuid.NewString()
	s.mu.Unlock()
	s.setState(Open)

	go s.writeLoop(connCtx, cancel, conn, out)
	err := s.readLoop(connCtx, conn)
	cancel()

	s.mu.Lock()
	s.out = nil
	s.sessionID = ""
	s.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	s.setState(Closed)
	return err
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		frame, err := types.DecodeFrame(data)
		if err != nil || frame.Event == "" {
			s.logger.Debug("bad frame", zap.ByteString("frame", data), zap.Error(err))
			continue
		}
		s.dispatch(frame)
	}
}

func (s *Session) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-out:
			wctx, wcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, payload)
			wcancel()
			if err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

// Publish sends event fire-and-forget. It is silently dropped when the
// session is not Open or the send buffer is full; callers check State first.
func (s *Session) Publish(event string, payload any) {
	s.mu.Lock()
	out := s.out
	open := s.state == Open
	s.mu.Unlock()
	if !open || out == nil {
		s.logger.Debug("publish dropped, not open", zap.String("event", event))
		return
	}

	frame, err := types.NewFrame(event, payload)
	if err != nil {
		s.logger.Warn("publish dropped, bad payload", zap.String("event", event), zap.Error(err))
		return
	}
	b, err := frame.Encode()
	if err != nil {
		s.logger.Warn("publish dropped, encode", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case out <- b:
	default:
		s.logger.Warn("publish dropped, send buffer full", zap.String("event", event))
	}
}

// Subscribe registers h for event. The returned func unsubscribes and is safe
// to call any number of times.
func (s *Session) Subscribe(event string, h Handler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[event] = append(s.handlers[event], subscription[Handler]{id: id, fn: h})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.handlers[event] = slices.DeleteFunc(s.handlers[event], func(sub subscription[Handler]) bool {
				return sub.id == id
			})
			if len(s.handlers[event]) == 0 {
				delete(s.handlers, event)
			}
			s.mu.Unlock()
		})
	}
}

// OnStateChange registers l for every subsequent state transition.
func (s *Session) OnStateChange(l StateListener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription[StateListener]{id: id, fn: l})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.listeners = slices.DeleteFunc(s.listeners, func(sub subscription[StateListener]) bool {
				return sub.id == id
			})
			s.mu.Unlock()
		})
	}
}

func (s *Session) dispatch(frame types.Frame) {
	s.mu.Lock()
	subs := slices.Clone(s.handlers[frame.Event])
	s.mu.Unlock()

	if len(subs) == 0 {
		s.logger.Debug("unhandled event", zap.String("event", frame.Event))
		return
	}
	for _, sub := range subs {
		sub.fn(frame.Data)
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.Info("transport state", zap.Stringer("from", prev), zap.Stringer("to", next))
	for _, l := range listeners {
		l.fn(next)
	}
}
