package types

import "encoding/json"

// Frame is the envelope for every realtime event on the socket, in both
// directions.
type Frame struct {
	Event string          `json:"event"`           // e.g. "join-chat-room" | "new-message"
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a Frame for event.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// Encode returns the wire form of f.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses one wire frame.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(b, &f)
	return f, err
}
