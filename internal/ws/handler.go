package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/quiz-chat/internal/hub"
	"github.com/DoyleJ11/quiz-chat/internal/identity"
	"github.com/DoyleJ11/quiz-chat/internal/lobby"
	"github.com/DoyleJ11/quiz-chat/internal/types"
	pkgtypes "github.com/DoyleJ11/quiz-chat/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	pingInterval = 20 * time.Second
	outboxSize   = 32
	readLimit    = 64 << 10
)

type Resolver interface {
	Resolve(credential string) (identity.Identity, error)
}

type Options struct {
	// Resolver authenticates the bearer token when one is presented. Without
	// it the identity comes from the join payload.
	Resolver Resolver
	// FramesPerSecond limits inbound frames per connection; zero disables.
	FramesPerSecond float64
	Burst           int
	// OriginPatterns allows cross-origin browsers; empty means same origin
	// only unless AllowAnyOrigin is set.
	OriginPatterns []string
	AllowAnyOrigin bool
	Logger         *zap.Logger
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.FramesPerSecond))
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := authenticate(r, opts.Resolver)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     opts.OriginPatterns,
			InsecureSkipVerify: opts.AllowAnyOrigin,
		})
		if err != nil {
			return
		}
		conn.SetReadLimit(readLimit)

		limit := rate.Inf
		if opts.FramesPerSecond > 0 {
			limit = rate.Limit(opts.FramesPerSecond)
		}

		ctx, cancel := context.WithCancel(r.Context())
		c := &connection{
			id:      uuid.NewString(),
			conn:    conn,
			hub:     h,
			ident:   ident,
			out:     make(chan types.Frame, outboxSize),
			limiter: rate.NewLimiter(limit, opts.Burst),
			cancel:  cancel,
		}
		c.logger = opts.Logger.With(zap.String("conn", c.id))
		c.logger.Debug("connection opened", zap.String("user", ident.UserID))

		// Writer goroutine
		go c.writeLoop(ctx)

		// Reader loop
		err = c.readLoop(ctx)
		c.leaveCurrent()
		cancel()

		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			c.logger.Debug("connection closed")
		default:
			c.logger.Debug("connection lost", zap.Error(err))
		}
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func authenticate(r *http.Request, resolver Resolver) (identity.Identity, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if resolver == nil || strings.TrimSpace(strings.TrimPrefix(token, "Bearer ")) == "" {
		return identity.Identity{}, nil
	}
	return resolver.Resolve(token)
}

// connection is one websocket client. Only the reader goroutine touches
// lobby; the writer only drains out.
type connection struct {
	id      string
	conn    *websocket.Conn
	hub     *hub.Hub
	ident   identity.Identity
	out     chan types.Frame
	limiter *rate.Limiter
	cancel  context.CancelFunc
	logger  *zap.Logger

	lobby *lobby.Lobby
}

func (c *connection) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		if !c.limiter.Allow() {
			c.logger.Debug("frame rate limited")
			continue
		}
		f, err := types.DecodeFrame(data)
		if err != nil {
			c.logger.Debug("bad frame", zap.Error(err))
			continue
		}
		c.handle(ctx, f)
	}
}

func (c *connection) writeLoop(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case f := <-c.out:
			payload, err := f.Encode()
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				c.cancel()
				return
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *connection) handle(ctx context.Context, f types.Frame) {
	switch f.Event {
	case pkgtypes.EventJoinRoom:
		var p pkgtypes.JoinRoom
		if !c.decode(f, &p) {
			return
		}
		c.join(ctx, p)

	case pkgtypes.EventLeaveRoom:
		var roomID string
		if !c.decode(f, &roomID) {
			return
		}
		if c.lobby != nil && (roomID == "" || roomID == c.lobby.RoomID()) {
			c.leaveCurrent()
		}

	case pkgtypes.EventSendMessage:
		var p pkgtypes.SendMessage
		if !c.decode(f, &p) {
			return
		}
		if c.lobby == nil {
			c.notify(pkgtypes.EventMessageError, "join a room before sending")
			return
		}
		c.send(lobby.Post{ConnID: c.id, Kind: pkgtypes.KindText, Body: p.Message})

	case pkgtypes.EventRequestHelp:
		var p pkgtypes.RequestHelp
		if !c.decode(f, &p) {
			return
		}
		if c.lobby == nil {
			c.notify(pkgtypes.EventHelpError, "join a room before asking for help")
			return
		}
		c.send(lobby.Post{ConnID: c.id, Kind: pkgtypes.KindHelp, Body: p.Question})

	case pkgtypes.EventTypingStart, pkgtypes.EventTypingStop:
		if c.lobby != nil {
			c.send(lobby.Typing{ConnID: c.id, IsTyping: f.Event == pkgtypes.EventTypingStart})
		}

	default:
		c.logger.Debug("unknown event", zap.String("event", f.Event))
	}
}

func (c *connection) join(ctx context.Context, p pkgtypes.JoinRoom) {
	user := c.ident
	if !user.Valid() {
		user = identity.Identity{UserID: strings.TrimSpace(p.UserID), DisplayName: strings.TrimSpace(p.Username)}
	}
	if !user.Valid() {
		c.notify(pkgtypes.EventMessageError, "user id required to join")
		return
	}
	if user.DisplayName == "" {
		user.DisplayName = user.UserID
	}

	roomID := strings.TrimSpace(p.RoomID)
	if c.lobby != nil && c.lobby.RoomID() != roomID {
		c.leaveCurrent()
	}
	lb, err := c.hub.Lobby(ctx, roomID)
	if err != nil {
		c.logger.Debug("join refused", zap.String("room", roomID), zap.Error(err))
		c.notify(pkgtypes.EventMessageError, "could not join room")
		return
	}
	c.lobby = lb
	c.send(lobby.Join{
		ConnID:   c.id,
		UserID:   user.UserID,
		Username: user.DisplayName,
		Outbox:   c.out,
		Drop:     c.cancel,
	})
}

func (c *connection) leaveCurrent() {
	if c.lobby == nil {
		return
	}
	c.lobby.Send(lobby.Leave{ConnID: c.id})
	c.lobby = nil
}

// send forwards m to the current lobby; a stopped lobby ends the connection.
func (c *connection) send(m lobby.Msg) {
	if !c.lobby.Send(m) {
		c.lobby = nil
		c.cancel()
	}
}

func (c *connection) decode(f types.Frame, v any) bool {
	if err := json.Unmarshal(f.Data, v); err != nil {
		c.logger.Debug("bad payload", zap.String("event", f.Event), zap.Error(err))
		return false
	}
	return true
}

func (c *connection) notify(event, message string) {
	f, err := types.NewFrame(event, pkgtypes.ErrorNotice{Message: message})
	if err != nil {
		return
	}
	select {
	case c.out <- f:
	default:
	}
}
