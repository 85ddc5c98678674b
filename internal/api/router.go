// Package api exposes the derived statuses over HTTP for dashboard
// consumers: request lifecycle statuses, vault health, and a WebSocket stream
// of live updates.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bridgewatch/internal/service"
)

// StatusEngine is the on-demand evaluation surface the handlers consume.
type StatusEngine interface {
	EvaluateRequestByID(ctx context.Context, id string) (*service.RequestEvaluation, error)
	EvaluateRequests(ctx context.Context, limit, offset int) ([]service.RequestEvaluation, error)
	EvaluateVaults(ctx context.Context) ([]service.VaultEvaluation, error)
	EvaluateVaultByID(ctx context.Context, id string) (*service.VaultEvaluation, error)
}

// UpdateStream is the subscription surface backing the WebSocket endpoint.
type UpdateStream interface {
	Subscribe(subjects []string) (*service.Subscriber, error)
	Unsubscribe(sub *service.Subscriber) error
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(engine StatusEngine, stream UpdateStream) http.Handler {
	h := &Handlers{engine: engine, stream: stream}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Requests.
		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{id}/status", h.GetRequestStatus)

		// Vaults.
		r.Get("/vaults", h.ListVaults)
		r.Get("/vaults/{id}", h.GetVault)

		// Live updates.
		r.Get("/stream", h.Stream)
	})

	return r
}
