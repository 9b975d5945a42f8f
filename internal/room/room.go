// Package room is the client side of one chat room: it owns membership,
// presence, typing, the message log and connection health, and serializes
// every mutation of them through a single goroutine.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-chat/internal/health"
	"github.com/DoyleJ11/quiz-chat/internal/identity"
	"github.com/DoyleJ11/quiz-chat/internal/membership"
	"github.com/DoyleJ11/quiz-chat/internal/messages"
	"github.com/DoyleJ11/quiz-chat/internal/presence"
	"github.com/DoyleJ11/quiz-chat/internal/transport"
	"github.com/DoyleJ11/quiz-chat/internal/typing"
	"github.com/DoyleJ11/quiz-chat/pkg/types"
)

var (
	ErrIdentityUnavailable   = identity.ErrIdentityUnavailable
	ErrHistoryFetchFailed    = messages.ErrHistoryFetchFailed
	ErrTransportUnavailable  = errors.New("transport unavailable")
	ErrEmptyMessage          = errors.New("message is empty")
	ErrServerRejectedMessage = errors.New("server rejected message")
	ErrServerRejectedHelp    = errors.New("server rejected help request")
	ErrClosed                = errors.New("room client closed")
)

// Transport is the part of transport.Session the client uses.
type Transport interface {
	State() transport.State
	Publish(event string, payload any)
	Subscribe(event string, h transport.Handler) func()
	OnStateChange(l transport.StateListener) func()
}

type HistoryLoader interface {
	Fetch(ctx context.Context, roomID string) ([]types.Message, error)
}

type Resolver interface {
	Resolve(credential string) (identity.Identity, error)
}

// inboundEvents are subscribed once per room session.
var inboundEvents = []string{
	types.EventNewMessage,
	types.EventHelpRequest,
	types.EventOnlineUsers,
	types.EventOnlineUsersUpdated,
	types.EventUserJoined,
	types.EventUserLeft,
	types.EventUserTyping,
	types.EventMessageError,
	types.EventHelpError,
}

type Config struct {
	Transport Transport
	// History is optional; without it the log only holds live messages.
	History  HistoryLoader
	Resolver Resolver

	TypingDebounce time.Duration
	TypingTTL      time.Duration
	SweepInterval  time.Duration

	Now    func() time.Time
	Logger *zap.Logger
}

func (c *Config) withDefaults() {
	if c.Resolver == nil {
		c.Resolver = identity.NewResolver("")
	}
	if c.TypingDebounce <= 0 {
		c.TypingDebounce = typing.DefaultDebounce
	}
	if c.TypingTTL <= c.TypingDebounce {
		c.TypingTTL = max(typing.DefaultTTL, 3*c.TypingDebounce)
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 250 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// View is a copy of everything a UI renders for the current room.
type View struct {
	RoomID   string
	Phase    membership.Phase
	Joined   bool
	Status   health.Status
	Self     identity.Identity
	Online   []types.PresenceEntry
	Typing   []string
	Messages []types.Message

	HistoryLoading bool
	HistoryErr     error
	// Notice is the last server rejection, cleared by the next send.
	Notice error

	Joins   int
	Rejoins int
}

type Client struct {
	cfg    Config
	tr     Transport
	logger *zap.Logger

	inbox  chan Msg
	views  chan View
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopState func()

	// Everything below is owned by loop.
	member  membership.State
	health  *health.Indicator
	roster  *presence.Roster
	typers  *typing.Tracker
	log     *messages.Log
	signal  *typing.Signaler
	session uint64
	unsubs  []func()

	sawTransport bool
	sweep   *time.Ticker

	historyGen    uint64
	historyCancel context.CancelFunc
	pending       []types.Message
	historyErr    error
	notice        error
}

// New starts the client loop. The transport may already be running.
func New(parent context.Context, cfg Config) *Client {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(parent)

	c := &Client{
		cfg:    cfg,
		tr:     cfg.Transport,
		logger: cfg.Logger.With(zap.String("component", "room")),
		inbox:  make(chan Msg, 256),
		views:  make(chan View, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		member: membership.NewState(),
		health: health.NewIndicator(),
		roster: presence.NewRoster(),
		typers: typing.NewTracker(cfg.TypingTTL),
		log:    messages.NewLog(),
	}

	// Listen first, then read: a transition in between is queued ahead of
	// the initial state, which then gets dropped.
	c.stopState = c.tr.OnStateChange(func(s transport.State) { c.post(transportMsg{State: s}) })
	c.post(transportMsg{State: c.tr.State(), Initial: true})

	go c.loop()
	return c
}

// Enter joins roomID as the identity carried by credential. Entering the
// room the client is already in is a no-op.
func (c *Client) Enter(ctx context.Context, roomID, credential string) error {
	reply := make(chan error, 1)
	return c.request(ctx, enterMsg{RoomID: roomID, Credential: credential, Reply: reply}, reply)
}

func (c *Client) Leave(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, leaveMsg{Reply: reply}, reply)
}

// Send publishes a chat message. There is no delivery ack; the message shows
// up in the log when the server echoes it.
func (c *Client) Send(ctx context.Context, body string) error {
	reply := make(chan error, 1)
	return c.request(ctx, sendMsg{Kind: types.KindText, Body: body, Reply: reply}, reply)
}

func (c *Client) RequestHelp(ctx context.Context, question string) error {
	reply := make(chan error, 1)
	return c.request(ctx, sendMsg{Kind: types.KindHelp, Body: question, Reply: reply}, reply)
}

// Keystroke records local typing activity.
func (c *Client) Keystroke() { c.post(keystrokeMsg{}) }

// RetryHistory re-runs the history fetch for the current room.
func (c *Client) RetryHistory(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, retryHistoryMsg{Reply: reply}, reply)
}

func (c *Client) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case c.inbox <- getView{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.done:
		return View{}, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.done:
		return View{}, ErrClosed
	}
}

// Views delivers the latest View after every change. Intermediate views are
// replaced when the reader falls behind. Closed by Close.
func (c *Client) Views() <-chan View { return c.views }

// Close leaves the current room and stops the client.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}

func (c *Client) request(ctx context.Context, m Msg, reply chan error) error {
	select {
	case c.inbox <- m:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) post(m Msg) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		var tick <-chan time.Time
		if c.sweep != nil {
			tick = c.sweep.C
		}

		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case <-tick:
			if c.typers.Sweep(c.cfg.Now()) > 0 {
				c.publishView()
			}

		case m := <-c.inbox:
			switch msg := m.(type) {
			case enterMsg:
				msg.Reply <- c.enter(msg.RoomID, msg.Credential)
			case leaveMsg:
				msg.Reply <- c.leave()
			case sendMsg:
				msg.Reply <- c.send(msg.Kind, msg.Body)
			case keystrokeMsg:
				if c.member.Joined() && c.signal != nil {
					c.signal.Keystroke()
				}
				continue
			case retryHistoryMsg:
				if !c.member.Joined() {
					msg.Reply <- ErrTransportUnavailable
					continue
				}
				c.fetchHistory()
				msg.Reply <- nil
			case transportMsg:
				if msg.Initial && c.sawTransport {
					continue
				}
				c.sawTransport = true
				c.onTransport(msg.State)
			case inboundMsg:
				c.onInbound(msg)
			case historyMsg:
				c.onHistory(msg)
			case getView:
				msg.Reply <- c.view()
				continue
			}
			c.publishView()
		}
	}
}

func (c *Client) enter(roomID, credential string) error {
	id, err := c.cfg.Resolver.Resolve(credential)
	if err != nil {
		return err
	}
	wasIdle := c.member.Phase == membership.PhaseIdle
	events, next, err := membership.Apply(c.member, membership.Command{
		Type:     membership.CmdEnter,
		RoomID:   roomID,
		Identity: id,
	})
	if err != nil {
		return err
	}
	c.member = next
	if wasIdle && next.Phase != membership.PhaseIdle {
		c.openSession()
	}
	c.apply(events)
	return nil
}

func (c *Client) leave() error {
	if c.member.Phase == membership.PhaseIdle {
		return nil
	}
	if c.signal != nil {
		c.signal.Stop()
	}
	events, next, err := membership.Apply(c.member, membership.Command{Type: membership.CmdLeave})
	if err != nil {
		return err
	}
	c.member = next
	c.apply(events)

	c.closeSession()

	events, next, err = membership.Apply(c.member, membership.Command{Type: membership.CmdLeaveComplete})
	if err != nil {
		return err
	}
	c.member = next
	c.apply(events)
	return nil
}

func (c *Client) send(kind types.MessageKind, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	if !c.member.Joined() || !c.health.CanSend() {
		return ErrTransportUnavailable
	}
	c.signal.Stop()
	c.notice = nil

	self := c.member.Identity
	if kind == types.KindHelp {
		c.tr.Publish(types.EventRequestHelp, types.RequestHelp{
			RoomID:   c.member.RoomID,
			UserID:   self.UserID,
			Username: self.DisplayName,
			Question: body,
		})
		return nil
	}
	c.tr.Publish(types.EventSendMessage, types.SendMessage{
		RoomID:      c.member.RoomID,
		UserID:      self.UserID,
		Username:    self.DisplayName,
		Message:     body,
		MessageType: types.KindText,
	})
	return nil
}

// openSession subscribes to the room's inbound events and starts the timers
// that live as long as the membership does.
func (c *Client) openSession() {
	c.session++
	session := c.session
	for _, event := range inboundEvents {
		unsub := c.tr.Subscribe(event, func(data []byte) {
			c.post(inboundMsg{Session: session, Event: event, Data: data})
		})
		c.unsubs = append(c.unsubs, unsub)
	}

	roomID, self := c.member.RoomID, c.member.Identity
	c.signal = typing.NewSignaler(c.cfg.TypingDebounce, func(on bool) {
		event := types.EventTypingStop
		if on {
			event = types.EventTypingStart
		}
		c.tr.Publish(event, types.Typing{RoomID: roomID, Username: self.DisplayName, UserID: self.UserID})
	})
	c.sweep = time.NewTicker(c.cfg.SweepInterval)
	c.logger.Debug("room session opened", zap.String("room", roomID), zap.Uint64("session", session))
}

func (c *Client) closeSession() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	if c.signal != nil {
		c.signal.Cancel()
		c.signal = nil
	}
	if c.sweep != nil {
		c.sweep.Stop()
		c.sweep = nil
	}
	c.cancelHistory()
	c.roster.Reset()
	c.typers.Reset()
	c.log.Reset()
	c.historyErr = nil
	c.notice = nil
}

// apply performs the side effects of membership events.
func (c *Client) apply(events []membership.Event) {
	for _, ev := range events {
		switch ev.Type {
		case membership.EvtJoinPublished:
			c.tr.Publish(types.EventJoinRoom, types.JoinRoom{
				RoomID:   ev.RoomID,
				Username: ev.Identity.DisplayName,
				UserID:   ev.Identity.UserID,
			})
			c.fetchHistory()
			c.logger.Info("joined room", zap.String("room", ev.RoomID), zap.String("user", ev.Identity.UserID))

		case membership.EvtRejoined:
			c.logger.Info("rejoined after reconnect", zap.String("room", ev.RoomID), zap.Int("rejoins", c.member.Rejoins))

		case membership.EvtMembershipLost:
			c.roster.Reset()
			c.typers.Reset()
			if c.signal != nil {
				c.signal.Cancel()
			}
			c.cancelHistory()
			c.logger.Info("membership lost", zap.String("room", ev.RoomID))

		case membership.EvtLeavePublished:
			c.tr.Publish(types.EventLeaveRoom, ev.RoomID)

		case membership.EvtLeft:
			c.logger.Info("left room", zap.String("room", ev.RoomID))
		}
	}
}

func (c *Client) onTransport(s transport.State) {
	c.health.Observe(s)
	cmd := membership.CmdTransportClosed
	if s == transport.Open {
		cmd = membership.CmdTransportOpen
	}
	events, next, err := membership.Apply(c.member, membership.Command{Type: cmd})
	if err != nil {
		c.logger.Warn("transport transition rejected", zap.Stringer("state", s), zap.Error(err))
		return
	}
	c.member = next
	c.apply(events)
}

func (c *Client) onInbound(msg inboundMsg) {
	if msg.Session != c.session || c.member.Phase == membership.PhaseIdle {
		c.logger.Debug("stale event discarded", zap.String("event", msg.Event))
		return
	}

	var err error
	switch msg.Event {
	case types.EventNewMessage, types.EventHelpRequest:
		var m types.Message
		if err = json.Unmarshal(msg.Data, &m); err != nil {
			break
		}
		if m.RoomID != "" && m.RoomID != c.member.RoomID {
			return
		}
		if m.Kind == "" {
			m.Kind = types.KindText
			if msg.Event == types.EventHelpRequest {
				m.Kind = types.KindHelp
			}
		}
		c.log.Append(m)
		if c.historyCancel != nil {
			c.pending = append(c.pending, m)
		}

	case types.EventOnlineUsers, types.EventOnlineUsersUpdated:
		var entries []types.PresenceEntry
		if err = json.Unmarshal(msg.Data, &entries); err == nil {
			c.roster.ApplySnapshot(entries)
		}

	case types.EventUserJoined:
		var e types.PresenceEntry
		if err = json.Unmarshal(msg.Data, &e); err == nil {
			c.roster.ApplyJoin(e)
		}

	case types.EventUserLeft:
		var left types.UserLeft
		if err = json.Unmarshal(msg.Data, &left); err == nil {
			c.roster.ApplyLeave(left.UserID)
		}

	case types.EventUserTyping:
		var ut types.UserTyping
		if err = json.Unmarshal(msg.Data, &ut); err != nil {
			break
		}
		if ut.UserID != "" && ut.UserID == c.member.Identity.UserID {
			return
		}
		key := typing.Key(ut.UserID, ut.Username)
		if ut.IsTyping {
			c.typers.Start(key, ut.Username, c.cfg.Now())
		} else {
			c.typers.Stop(key)
		}

	case types.EventMessageError, types.EventHelpError:
		var n types.ErrorNotice
		if err = json.Unmarshal(msg.Data, &n); err != nil {
			break
		}
		base := ErrServerRejectedMessage
		if msg.Event == types.EventHelpError {
			base = ErrServerRejectedHelp
		}
		c.notice = fmt.Errorf("%w: %s", base, n.Message)
		c.logger.Warn("server rejected", zap.String("event", msg.Event), zap.String("reason", n.Message))
	}

	if err != nil {
		c.logger.Debug("bad event payload", zap.String("event", msg.Event), zap.Error(err))
	}
}

func (c *Client) fetchHistory() {
	c.cancelHistory()
	c.historyErr = nil
	if c.cfg.History == nil {
		return
	}

	gen := c.historyGen
	ctx, cancel := context.WithCancel(c.ctx)
	c.historyCancel = cancel
	roomID := c.member.RoomID
	loader := c.cfg.History

	go func() {
		msgs, err := loader.Fetch(ctx, roomID)
		c.post(historyMsg{Gen: gen, Messages: msgs, Err: err})
	}()
}

// cancelHistory aborts an in-flight fetch; its result, if it still arrives,
// carries an old generation and is discarded.
func (c *Client) cancelHistory() {
	if c.historyCancel != nil {
		c.historyCancel()
		c.historyCancel = nil
	}
	c.historyGen++
	c.pending = nil
}

func (c *Client) onHistory(msg historyMsg) {
	if msg.Gen != c.historyGen || c.historyCancel == nil {
		c.logger.Debug("late history result discarded", zap.Uint64("gen", msg.Gen))
		return
	}
	c.historyCancel()
	c.historyCancel = nil

	pending := c.pending
	c.pending = nil
	if msg.Err != nil {
		err := msg.Err
		if !errors.Is(err, ErrHistoryFetchFailed) {
			err = fmt.Errorf("%w: %w", ErrHistoryFetchFailed, err)
		}
		c.historyErr = err
		c.logger.Warn("history fetch failed", zap.String("room", c.member.RoomID), zap.Error(err))
		return
	}

	c.log.Replace(msg.Messages)
	for _, m := range pending {
		c.log.Append(m)
	}
}

func (c *Client) view() View {
	return View{
		RoomID:         c.member.RoomID,
		Phase:          c.member.Phase,
		Joined:         c.member.Joined(),
		Status:         c.health.Status(),
		Self:           c.member.Identity,
		Online:         c.roster.List(),
		Typing:         c.typers.Names(),
		Messages:       c.log.Messages(),
		HistoryLoading: c.historyCancel != nil,
		HistoryErr:     c.historyErr,
		Notice:         c.notice,
		Joins:          c.member.Joins,
		Rejoins:        c.member.Rejoins,
	}
}

// publishView replaces any unread view with the current one. loop is the
// only sender, so the drain and send cannot race another writer.
func (c *Client) publishView() {
	v := c.view()
	select {
	case <-c.views:
	default:
	}
	select {
	case c.views <- v:
	default:
	}
}

func (c *Client) shutdown() {
	c.stopState()
	if err := c.leave(); err != nil {
		c.logger.Warn("leave on close", zap.Error(err))
	}
	close(c.views)
}
