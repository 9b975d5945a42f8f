// Package lobby is the relay's per-room actor: presence, typing fan-out and
// message persistence for one chat room.
package lobby

import (
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-chat/internal/types"
	pkgtypes "github.com/DoyleJ11/quiz-chat/pkg/types"
)

// MaxBodyRunes caps a message or help question.
const MaxBodyRunes = 2000

// Appender persists a message and returns it with server-assigned fields.
type Appender interface {
	Append(ctx context.Context, m pkgtypes.Message) (pkgtypes.Message, error)
}

type Msg interface{ isLobbyMsg() }

// Join registers a connection. Outbox belongs to the connection and is never
// closed by the lobby; Drop is called instead when the connection falls
// behind.
type Join struct {
	ConnID   string
	UserID   string
	Username string
	Outbox   chan<- types.Frame
	Drop     func()
}

type Leave struct{ ConnID string }

// Post is a chat message or help request from a member.
type Post struct {
	ConnID string
	Kind   pkgtypes.MessageKind
	Body   string
}

type Typing struct {
	ConnID   string
	IsTyping bool
}

type Shutdown struct{}

type GetState struct {
	Reply chan View
}

func (Join) isLobbyMsg()     {}
func (Leave) isLobbyMsg()    {}
func (Post) isLobbyMsg()     {}
func (Typing) isLobbyMsg()   {}
func (Shutdown) isLobbyMsg() {}
func (GetState) isLobbyMsg() {}

type View struct {
	RoomID      string
	Connections int
	Online      []pkgtypes.PresenceEntry
	Typing      []string
	Stored      int
}

type member struct {
	connID   string
	userID   string
	username string
	out      chan<- types.Frame
	drop     func()
}

// presence counts connections per user so a second tab does not announce a
// second join and closing one tab does not announce a leave.
type presence struct {
	name  string
	conns int
}

type Lobby struct {
	roomID string
	inbox  chan Msg
	store  Appender
	logger *zap.Logger

	members map[string]*member
	online  map[string]*presence
	typing  map[string]string // userID -> username
	stored  int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, roomID string, store Appender, logger *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Lobby{
		roomID:  roomID,
		inbox:   make(chan Msg, 64),
		store:   store,
		logger:  logger.With(zap.String("room", roomID)),
		members: make(map[string]*member),
		online:  make(map[string]*presence),
		typing:  make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go l.loop()
	return l
}

func (l *Lobby) RoomID() string { return l.roomID }

// Inbox accepts lobby messages from the ws layer and the hub.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send queues m unless the lobby already stopped.
func (l *Lobby) Send(m Msg) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}

// Done is closed once the lobby stopped.
func (l *Lobby) Done() <-chan struct{} { return l.done }

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.join(msg)
			case Leave:
				l.remove(msg.ConnID)
			case Post:
				l.post(msg)
			case Typing:
				l.setTyping(msg)
			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- l.view()
			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) join(msg Join) {
	if _, ok := l.members[msg.ConnID]; ok {
		// Rejoin on the same connection: just resend the roster.
		l.deliver(l.only(msg.ConnID), frame(l.logger, pkgtypes.EventOnlineUsers, l.roster()))
		return
	}
	m := &member{connID: msg.ConnID, userID: msg.UserID, username: msg.Username, out: msg.Outbox, drop: msg.Drop}
	l.members[m.connID] = m

	p := l.online[m.userID]
	first := p == nil
	if first {
		p = &presence{name: m.username}
		l.online[m.userID] = p
	}
	p.conns++
	l.logger.Info("member joined", zap.String("user", m.userID), zap.Int("conns", p.conns))

	l.deliver(l.only(m.connID), frame(l.logger, pkgtypes.EventOnlineUsers, l.roster()))
	if first {
		l.deliver(l.except(m.connID), frame(l.logger, pkgtypes.EventUserJoined, pkgtypes.PresenceEntry{UserID: m.userID, DisplayName: m.username}))
		l.deliver(l.except(m.connID), frame(l.logger, pkgtypes.EventOnlineUsersUpdated, l.roster()))
	}
}

func (l *Lobby) remove(connID string) {
	m, ok := l.members[connID]
	if !ok {
		return
	}
	delete(l.members, connID)

	p := l.online[m.userID]
	p.conns--
	if p.conns > 0 {
		return
	}
	delete(l.online, m.userID)
	l.logger.Info("member left", zap.String("user", m.userID))

	if name, typing := l.typing[m.userID]; typing {
		delete(l.typing, m.userID)
		l.deliver(l.all(), frame(l.logger, pkgtypes.EventUserTyping, pkgtypes.UserTyping{Username: name, UserID: m.userID}))
	}
	l.deliver(l.all(), frame(l.logger, pkgtypes.EventUserLeft, pkgtypes.UserLeft{UserID: m.userID}))
	l.deliver(l.all(), frame(l.logger, pkgtypes.EventOnlineUsersUpdated, l.roster()))
}

func (l *Lobby) post(msg Post) {
	m, ok := l.members[msg.ConnID]
	if !ok {
		return
	}
	event, errEvent := pkgtypes.EventNewMessage, pkgtypes.EventMessageError
	if msg.Kind == pkgtypes.KindHelp {
		event, errEvent = pkgtypes.EventHelpRequest, pkgtypes.EventHelpError
	}

	body := strings.TrimSpace(msg.Body)
	switch {
	case body == "":
		l.deliver(l.only(m.connID), frame(l.logger, errEvent, pkgtypes.ErrorNotice{Message: "message is empty"}))
		return
	case utf8.RuneCountInString(body) > MaxBodyRunes:
		l.deliver(l.only(m.connID), frame(l.logger, errEvent, pkgtypes.ErrorNotice{Message: "message is too long"}))
		return
	}

	kind := msg.Kind
	if kind == "" {
		kind = pkgtypes.KindText
	}
	stored, err := l.store.Append(l.ctx, pkgtypes.Message{
		RoomID:     l.roomID,
		AuthorID:   m.userID,
		AuthorName: m.username,
		Body:       body,
		Kind:       kind,
	})
	if err != nil {
		l.logger.Error("store message", zap.Error(err))
		l.deliver(l.only(m.connID), frame(l.logger, errEvent, pkgtypes.ErrorNotice{Message: "message could not be saved"}))
		return
	}
	l.stored++

	// Sending ends the author's typing burst.
	if _, typing := l.typing[m.userID]; typing {
		delete(l.typing, m.userID)
		l.deliver(l.exceptUser(m.userID), frame(l.logger, pkgtypes.EventUserTyping, pkgtypes.UserTyping{Username: m.username, UserID: m.userID}))
	}
	l.deliver(l.all(), frame(l.logger, event, stored))
}

func (l *Lobby) setTyping(msg Typing) {
	m, ok := l.members[msg.ConnID]
	if !ok {
		return
	}
	_, was := l.typing[m.userID]
	if was == msg.IsTyping {
		return
	}
	if msg.IsTyping {
		l.typing[m.userID] = m.username
	} else {
		delete(l.typing, m.userID)
	}
	l.deliver(l.exceptUser(m.userID), frame(l.logger, pkgtypes.EventUserTyping, pkgtypes.UserTyping{
		Username: m.username,
		UserID:   m.userID,
		IsTyping: msg.IsTyping,
	}))
}

func (l *Lobby) roster() []pkgtypes.PresenceEntry {
	out := make([]pkgtypes.PresenceEntry, 0, len(l.online))
	for id, p := range l.online {
		out = append(out, pkgtypes.PresenceEntry{UserID: id, DisplayName: p.name})
	}
	slices.SortFunc(out, func(a, b pkgtypes.PresenceEntry) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

func (l *Lobby) view() View {
	typing := make([]string, 0, len(l.typing))
	for _, name := range l.typing {
		typing = append(typing, name)
	}
	slices.Sort(typing)
	return View{
		RoomID:      l.roomID,
		Connections: len(l.members),
		Online:      l.roster(),
		Typing:      typing,
		Stored:      l.stored,
	}
}

func (l *Lobby) all() []*member {
	out := make([]*member, 0, len(l.members))
	for _, m := range l.members {
		out = append(out, m)
	}
	return out
}

func (l *Lobby) only(connID string) []*member {
	if m, ok := l.members[connID]; ok {
		return []*member{m}
	}
	return nil
}

func (l *Lobby) except(connID string) []*member {
	out := make([]*member, 0, len(l.members))
	for id, m := range l.members {
		if id != connID {
			out = append(out, m)
		}
	}
	return out
}

func (l *Lobby) exceptUser(userID string) []*member {
	out := make([]*member, 0, len(l.members))
	for _, m := range l.members {
		if m.userID != userID {
			out = append(out, m)
		}
	}
	return out
}

// deliver sends f to every target without blocking. Members whose outbox is
// full are dropped.
func (l *Lobby) deliver(targets []*member, f types.Frame) {
	if f.Event == "" {
		return
	}
	var slow []*member
	for _, m := range targets {
		select {
		case m.out <- f:
		default:
			slow = append(slow, m)
		}
	}
	for _, m := range slow {
		if _, still := l.members[m.connID]; !still {
			continue
		}
		l.logger.Warn("dropping slow member", zap.String("conn", m.connID), zap.String("user", m.userID))
		if m.drop != nil {
			m.drop()
		}
		l.remove(m.connID)
	}
}

func (l *Lobby) shutdown() {
	for _, m := range l.members {
		if m.drop != nil {
			m.drop()
		}
	}
	clear(l.members)
	clear(l.online)
	clear(l.typing)
	l.cancel()
}

func frame(logger *zap.Logger, event string, payload any) types.Frame {
	f, err := types.NewFrame(event, payload)
	if err != nil {
		logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return types.Frame{}
	}
	return f
}
