package room

import (
	"github.com/DoyleJ11/quiz-chat/internal/transport"
	"github.com/DoyleJ11/quiz-chat/pkg/types"
)

// Msg is anything the client's loop accepts on its inbox.
type Msg interface{ isRoomMsg() }

type enterMsg struct {
	RoomID     string
	Credential string
	Reply      chan error
}

type leaveMsg struct {
	Reply chan error
}

type sendMsg struct {
	Kind  types.MessageKind
	Body  string
	Reply chan error
}

type keystrokeMsg struct{}

type retryHistoryMsg struct {
	Reply chan error
}

// transportMsg carries one transport state transition. Initial marks the
// state read at construction; it is dropped once a real transition arrived.
type transportMsg struct {
	State   transport.State
	Initial bool
}

// inboundMsg is a server event forwarded from the transport's reader.
// Session identifies the room session whose subscription produced it.
type inboundMsg struct {
	Session uint64
	Event   string
	Data    []byte
}

type historyMsg struct {
	Gen      uint64
	Messages []types.Message
	Err      error
}

type getView struct {
	Reply chan View
}

func (enterMsg) isRoomMsg()        {}
func (leaveMsg) isRoomMsg()        {}
func (sendMsg) isRoomMsg()         {}
func (keystrokeMsg) isRoomMsg()    {}
func (retryHistoryMsg) isRoomMsg() {}
func (transportMsg) isRoomMsg()    {}
func (inboundMsg) isRoomMsg()      {}
func (historyMsg) isRoomMsg()      {}
func (getView) isRoomMsg()         {}
