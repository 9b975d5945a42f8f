package types

// GET /api/chat/messages/{roomId}
//   success: boolean
//   data:    Message[] ordered by seq (oldest first)
//   error:   string (only when success is false)

// HistoryResponse is the REST envelope for a room's message history.
type HistoryResponse struct {
	Success bool      `json:"success"`
	Data    []Message `json:"data"`
	Error   string    `json:"error,omitempty"`
}
