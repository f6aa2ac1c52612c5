/**
 * @description
 * This file sets up the HTTP router for the charge service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * shared middleware stack and bearer authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5, github.com/go-chi/cors: Routing and CORS.
 * - github.com/prometheus/client_golang: The /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChargeRoutes creates and returns a new router for the charge service.
// auth guards every /charges route; gatherer backs /metrics.
func ChargeRoutes(h *ChargeHandlers, auth func(http.Handler) http.Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Post("/charges", h.IssueChargeHandler)
		r.Get("/charges/{transactionID}", h.GetChargeHandler)
		r.Post("/charges/{transactionID}/confirm", h.ConfirmChargeHandler)
		r.Post("/charges/{transactionID}/cancel", h.CancelChargeHandler)
	})

	return r
}
