// Package hub is the relay's registry of live rooms.
package hub

import (
	"context"
	"errors"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-chat/internal/lobby"
)

var ErrRoomRequired = errors.New("room id required")
var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

// EnsureLobby returns the room's lobby, starting it on first use.
type EnsureLobby struct {
	RoomID string
	Reply  chan *lobby.Lobby
}

type GetLobby struct {
	RoomID string
	Reply  chan *lobby.Lobby // nil when the room has no lobby
}

type ListRooms struct {
	Reply chan []string
}

type ShutdownHub struct {
	Done chan struct{}
}

func (EnsureLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	store   lobby.Appender
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, store lobby.Appender, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		store:   store,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Lobby is the request/reply form of EnsureLobby.
func (h *Hub) Lobby(ctx context.Context, roomID string) (*lobby.Lobby, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- EnsureLobby{RoomID: roomID, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubClosed
	}
	select {
	case lb := <-reply:
		if lb == nil {
			return nil, ErrHubClosed
		}
		return lb, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Rooms is the request/reply form of ListRooms.
func (h *Hub) Rooms(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	select {
	case h.inbox <- ListRooms{Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubClosed
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Shutdown stops every lobby and waits until they are gone or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	done := make(chan struct{})
	select {
	case h.inbox <- ShutdownHub{Done: done}:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureLobby:
				lb := h.lobbies[msg.RoomID]
				if lb == nil {
					lb = lobby.NewLobby(h.ctx, msg.RoomID, h.store, h.logger)
					h.lobbies[msg.RoomID] = lb
					h.logger.Info("room opened", zap.String("room", msg.RoomID))
				}
				msg.Reply <- lb

			case GetLobby:
				msg.Reply <- h.lobbies[msg.RoomID] // May be nil

			case ListRooms:
				rooms := make([]string, 0, len(h.lobbies))
				for id := range h.lobbies {
					rooms = append(rooms, id)
				}
				slices.Sort(rooms)
				msg.Reply <- rooms

			case ShutdownHub:
				for _, lb := range h.lobbies {
					lb.Send(lobby.Shutdown{})
				}
				for _, lb := range h.lobbies {
					<-lb.Done()
				}
				clear(h.lobbies)
				h.cancel()
				if msg.Done != nil {
					close(msg.Done)
				}
				return
			}
		}
	}
}
