package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the HTTP API.
func NewRouter(logger *logrus.Logger, tickets *TicketHandler, auth *AuthHandler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(corsOrigins))

	r.Get("/health", HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", auth.Login)
		r.Post("/scan", tickets.Scan)
		r.Get("/stats", tickets.Stats)

		// Everything under /tickets exposes tokens or changes state.
		r.Route("/tickets", func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Get("/", tickets.List)
			r.Get("/lookup", tickets.Lookup)
			r.Post("/sync", tickets.Sync)
			r.Get("/{serial}", tickets.Get)
			r.Get("/{serial}/qr", tickets.QRCode)
			r.Delete("/", tickets.Purge)
			r.Post("/{serial}/sell", tickets.Sell)
			r.Delete("/{serial}", tickets.Delete)
		})

		// Administrator-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Post("/auth/register", auth.Register)
			r.Get("/auth/me", auth.Me)

			r.Route("/batches", func(r chi.Router) {
				r.Post("/", tickets.IssueBatch)
				r.Get("/", tickets.ListBatches)
				r.Get("/{id}", tickets.GetBatch)
				r.Get("/{id}/tickets", tickets.BatchTickets)
			})
		})
	})

	return r
}
