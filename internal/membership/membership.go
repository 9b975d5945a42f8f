package membership

import (
	"errors"
	"strings"

	"github.com/DoyleJ11/quiz-chat/internal/identity"
)

var ErrIdentityUnavailable = identity.ErrIdentityUnavailable
var ErrRoomRequired = errors.New("room id required")
var ErrRoomBusy = errors.New("already in another room")
var ErrInvalidTransition = errors.New("invalid membership transition")

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseJoining   Phase = "joining"
	PhaseJoined    Phase = "joined"
	PhaseRejoining Phase = "rejoining"
	PhaseLeaving   Phase = "leaving"
)

type State struct {
	Phase    Phase
	RoomID   string
	Identity identity.Identity
	// Want is the "still want to be in this room" flag that drives rejoin.
	Want bool
	Open bool
	// Joins counts join publications, Rejoins the ones caused by reconnects.
	Joins   int
	Rejoins int
}

// Joined reports whether other subsystems may assume membership.
func (s State) Joined() bool { return s.Phase == PhaseJoined && s.Open }

type CommandType string

const (
	CmdEnter           CommandType = "Enter"
	CmdLeave           CommandType = "Leave"
	CmdLeaveComplete   CommandType = "LeaveComplete"
	CmdTransportOpen   CommandType = "TransportOpen"
	CmdTransportClosed CommandType = "TransportClosed"
)

/*
	CmdEnter (open)         -> EvtJoinPublished
	CmdEnter (not open)     -> (waits in Joining)
	CmdTransportOpen        -> EvtJoinPublished [+ EvtRejoined when it was a reconnect]
	CmdTransportClosed      -> EvtMembershipLost (only from Joined)
	CmdLeave                -> EvtLeavePublished (only when open) -> Leaving
	CmdLeaveComplete        -> EvtLeft -> Idle
*/

type Command struct {
	Type     CommandType
	RoomID   string
	Identity identity.Identity
}

type EventType string

const (
	EvtJoinPublished  EventType = "JoinPublished"
	EvtRejoined       EventType = "Rejoined"
	EvtMembershipLost EventType = "MembershipLost"
	EvtLeavePublished EventType = "LeavePublished"
	EvtLeft           EventType = "Left"
)

type Event struct {
	Type     EventType
	RoomID   string
	Identity identity.Identity
}

// Apply is the pure transition function. The caller performs the side
// effects the returned events describe (publishing join/leave, resetting
// dependents).
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == "" {
		s.Phase = PhaseIdle
	}
	if !allowed(s.Phase, cmd.Type) {
		return nil, s, ErrInvalidTransition
	}
	next := s

	switch cmd.Type {
	case CmdEnter:
		roomID := strings.TrimSpace(cmd.RoomID)
		if roomID == "" {
			return nil, s, ErrRoomRequired
		}
		if !cmd.Identity.Valid() {
			return nil, s, ErrIdentityUnavailable
		}
		if s.Phase == PhaseLeaving {
			return nil, s, ErrRoomBusy
		}
		if s.Phase != PhaseIdle {
			if s.RoomID == roomID && s.Identity == cmd.Identity {
				return nil, s, nil
			}
			return nil, s, ErrRoomBusy
		}

		next.RoomID = roomID
		next.Identity = cmd.Identity
		next.Want = true
		next.Phase = PhaseJoining
		if !s.Open {
			return nil, next, nil
		}
		next.Phase = PhaseJoined
		next.Joins++
		return []Event{joinEvent(next)}, next, nil

	case CmdTransportOpen:
		next.Open = true
		switch s.Phase {
		case PhaseJoining:
			next.Phase = PhaseJoined
			next.Joins++
			return []Event{joinEvent(next)}, next, nil
		case PhaseRejoining:
			next.Phase = PhaseJoined
			next.Joins++
			next.Rejoins++
			return []Event{
				joinEvent(next),
				{Type: EvtRejoined, RoomID: next.RoomID, Identity: next.Identity},
			}, next, nil
		}
		// Already joined on a stable Open, idle, or leaving: nothing to publish.
		return nil, next, nil

	case CmdTransportClosed:
		next.Open = false
		if s.Phase == PhaseJoined {
			next.Phase = PhaseRejoining
			return []Event{{Type: EvtMembershipLost, RoomID: s.RoomID, Identity: s.Identity}}, next, nil
		}
		return nil, next, nil

	case CmdLeave:
		if s.Phase == PhaseIdle {
			return nil, s, nil
		}
		next.Want = false
		next.Phase = PhaseLeaving
		if s.Phase == PhaseJoined && s.Open {
			return []Event{{Type: EvtLeavePublished, RoomID: s.RoomID, Identity: s.Identity}}, next, nil
		}
		// Not open: server-side presence times the connection out on its own.
		return nil, next, nil

	case CmdLeaveComplete:
		left := Event{Type: EvtLeft, RoomID: s.RoomID, Identity: s.Identity}
		next = State{Phase: PhaseIdle, Open: s.Open, Joins: s.Joins, Rejoins: s.Rejoins}
		return []Event{left}, next, nil

	default:
		return nil, s, ErrInvalidTransition
	}
}

func joinEvent(s State) Event {
	return Event{Type: EvtJoinPublished, RoomID: s.RoomID, Identity: s.Identity}
}
