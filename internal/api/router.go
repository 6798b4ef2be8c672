/**
 * @description
 * HTTP router setup for the settlement service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new Chi router and registers the settlement routes.
func NewRouter(h *Handler, jwksURL, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature", "X-Internal-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Settlement service is healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// The processor authenticates with its signature, not platform auth.
	r.Post("/webhooks/stripe", h.handleWebhook)

	r.Route("/internal", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(jwksURL, internalKey))
		r.Post("/payouts/run", h.handleRunPayouts)
		r.Get("/payouts/{payoutID}", h.handleGetPayout)
		r.Post("/accounts/status", h.handleAccountStatus)
	})

	// Key-only routes for server-to-server tooling; no operator JWT path.
	r.Route("/ops", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Get("/webhook-events/failed", h.handleFailedWebhookEvents)
	})

	return r
}
