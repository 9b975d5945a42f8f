package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-chat/internal/hub"
	"github.com/DoyleJ11/quiz-chat/pkg/types"
)

// HistoryStore is what the HTTP layer needs from the message store.
type HistoryStore interface {
	Recent(ctx context.Context, roomID string, limit int) ([]types.Message, error)
	Ping(ctx context.Context) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// History serves the newest limit messages of a room, oldest first.
func History(store HistoryStore, limit int, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		if unescaped, err := url.PathUnescape(roomID); err == nil {
			roomID = unescaped
		}
		roomID = strings.TrimSpace(roomID)
		if roomID == "" {
			writeJSON(w, http.StatusBadRequest, types.HistoryResponse{Error: "missing room id"})
			return
		}

		msgs, err := store.Recent(r.Context(), roomID, limit)
		if err != nil {
			logger.Error("load history", zap.String("room", roomID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, types.HistoryResponse{Error: "failed to load messages"})
			return
		}
		writeJSON(w, http.StatusOK, types.HistoryResponse{Success: true, Data: msgs})
	}
}

// Rooms lists the rooms that currently have a live lobby.
func Rooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := h.Rooms(r.Context())
		if err != nil {
			http.Error(w, "rooms unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Rooms []string `json:"rooms"`
		}{Rooms: rooms})
	}
}

func Healthz(store HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// requestLogger logs one line per request at Debug, errors at Warn.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("request", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}
