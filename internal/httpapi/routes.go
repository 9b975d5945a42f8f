package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-chat/internal/hub"
	"github.com/DoyleJ11/quiz-chat/internal/ws"
)

type Deps struct {
	Hub          *hub.Hub
	Store        HistoryStore
	HistoryLimit int
	WS           ws.Options
	Logger       *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = 100
	}
	if d.WS.Logger == nil {
		d.WS.Logger = d.Logger
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz(d.Store))
	r.Get("/ws", ws.Handler(d.Hub, d.WS))
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/rooms", Rooms(d.Hub))
		r.Get("/messages/{roomId}", History(d.Store, d.HistoryLimit, d.Logger))
	})
	return r
}
