package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-chat/pkg/types"
)

var ErrHistoryFetchFailed = errors.New("history fetch failed")

// HistoryClient reads GET /api/chat/messages/{roomId} from the backend.
type HistoryClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

type HistoryOption func(*HistoryClient)

func WithHTTPClient(c *http.Client) HistoryOption {
	return func(h *HistoryClient) { h.http = c }
}

func WithToken(token string) HistoryOption {
	return func(h *HistoryClient) { h.token = token }
}

func WithLogger(l *zap.Logger) HistoryOption {
	return func(h *HistoryClient) { h.logger = l }
}

func NewHistoryClient(baseURL string, opts ...HistoryOption) *HistoryClient {
	h := &HistoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fetch returns the room's history in server order. Every failure wraps
// ErrHistoryFetchFailed.
func (h *HistoryClient) Fetch(ctx context.Context, roomID string) ([]types.Message, error) {
	endpoint := h.baseURL + "/api/chat/messages/" + url.PathEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrHistoryFetchFailed, resp.StatusCode)
	}

	var body types.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrHistoryFetchFailed, err)
	}
	if !body.Success {
		return nil, fmt.Errorf("%w: %s", ErrHistoryFetchFailed, body.Error)
	}

	h.logger.Debug("history fetched", zap.String("room", roomID), zap.Int("count", len(body.Data)))
	return body.Data, nil
}
