// Package server exposes the daemon's health probes and operations API.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/simsync/internal/handler"
	"github.com/josh-kwaku/simsync/internal/middleware"
)

type Handlers struct {
	Health   *handler.HealthHandler
	Accounts *handler.AccountHandler
	Batches  *handler.BatchHandler
	Sold     *handler.SoldHandler
}

func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	r.Get("/health", h.Health.Liveness)
	r.Get("/ready", h.Health.Readiness)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.Accounts.List)
			r.Post("/", h.Accounts.Register)
			r.Delete("/", h.Accounts.DeleteAllLocal)
			r.Post("/refresh", h.Accounts.RefreshOne)
			r.Route("/{userID}", func(r chi.Router) {
				r.Delete("/", h.Accounts.Delete)
				r.Get("/points", h.Accounts.PointDetails)
				r.Post("/claim", h.Accounts.Claim)
				r.Post("/sold", h.Accounts.MarkSold)
				r.Post("/transfer", h.Accounts.Transfer)
				r.Post("/transfer/confirm", h.Accounts.ConfirmTransfer)
			})
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/status", h.Batches.Status)
			r.Post("/load", h.Batches.Load)
			r.Post("/load-more", h.Batches.LoadMore)
			r.Post("/load-all", h.Batches.LoadAll)
			r.Post("/refresh", h.Batches.Refresh)
			r.Post("/claim", h.Batches.ClaimAll)
			r.Post("/cancel", h.Batches.Cancel)
		})

		r.Route("/sold", func(r chi.Router) {
			r.Get("/", h.Sold.List)
			r.Post("/refresh", h.Sold.Refresh)
			r.Delete("/{userID}", h.Sold.Delete)
		})
	})

	return r
}
