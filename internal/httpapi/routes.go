// Package httpapi wires the HTTP surface: health, match inspection and the
// two WebSocket upgrade endpoints.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/hub"
	"github.com/DoyleJ11/tilefall-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, s *ws.Server, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/matches/{matchID}", GetMatch(h, log))

	// WebSocket upgrades
	r.Get("/ws/lobby", LobbySocket(s))
	r.Get("/ws/match/{matchID}", MatchSocket(h, s, log))
	return r
}
