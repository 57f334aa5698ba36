package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SalieeriW/twokeys-backend/internal/hub"
	"github.com/SalieeriW/twokeys-backend/internal/metrics"
	"github.com/SalieeriW/twokeys-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", CreateRoom(h, log))
	r.Get("/rooms/{code}", GetRoom(h))
	r.Post("/rooms/{code}/reset", ResetRoom(h))
	r.Get("/ws/{code}", ws.Handler(h, log))
	r.Get("/healthz", Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}
