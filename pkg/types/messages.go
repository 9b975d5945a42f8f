package types

import (
	"encoding/json"
	"time"
)

// Client -> Server
// join-chat-room:   { roomId, username, userId }
// leave-chat-room:  roomId (bare string)
// send-message:     { roomId, userId, username, message, messageType }
// request-help:     { roomId, userId, username, question }
// typing-start:     { roomId, username, userId }
// typing-stop:      { roomId, username, userId }
const (
	EventJoinRoom    = "join-chat-room"
	EventLeaveRoom   = "leave-chat-room"
	EventSendMessage = "send-message"
	EventRequestHelp = "request-help"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
)

// Server -> Client
// new-message:          Message
// help-request:         Message (messageType "help")
// online-users:         PresenceEntry[] (sent to the joiner)
// online-users-updated: PresenceEntry[] (sent to everyone on membership change)
// user-joined:          PresenceEntry
// user-left:            { userId }
// user-typing:          { username, isTyping, userId? }
// message-error:        { message }
// help-error:           { message }
const (
	EventNewMessage         = "new-message"
	EventHelpRequest        = "help-request"
	EventOnlineUsers        = "online-users"
	EventOnlineUsersUpdated = "online-users-updated"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventUserTyping         = "user-typing"
	EventMessageError       = "message-error"
	EventHelpError          = "help-error"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindHelp   MessageKind = "help"
	KindSystem MessageKind = "system"
)

// Message is a chat entry as echoed by the server. Seq is assigned by the
// server and defines display order; ID is the de-duplication key.
type Message struct {
	ID         string      `json:"id"`
	Seq        int64       `json:"seq,omitempty"`
	RoomID     string      `json:"roomId"`
	AuthorID   string      `json:"userId"`
	AuthorName string      `json:"username"`
	Body       string      `json:"message"`
	Kind       MessageKind `json:"messageType"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// PresenceEntry is one online user in a room roster.
type PresenceEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// UnmarshalJSON accepts "displayName" and falls back to "username", which
// older servers send.
func (p *PresenceEntry) UnmarshalJSON(b []byte) error {
	var raw struct {
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
		Username    string `json:"username"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.UserID = raw.UserID
	p.DisplayName = raw.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = raw.Username
	}
	return nil
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type SendMessage struct {
	RoomID      string      `json:"roomId"`
	UserID      string      `json:"userId"`
	Username    string      `json:"username"`
	Message     string      `json:"message"`
	MessageType MessageKind `json:"messageType"`
}

type RequestHelp struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Question string `json:"question"`
}

// Typing is the payload of both typing-start and typing-stop.
type Typing struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type UserTyping struct {
	Username string `json:"username"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

// ErrorNotice is the payload of message-error and help-error.
type ErrorNotice struct {
	Message string `json:"message"`
}
