/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines the API
 * endpoints, associates them with their handlers and applies the authentication
 * middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	JWKSURL        string
	Auth           AuthOptions
	InternalAPIKey string
	AllowedOrigins []string
	Metrics        http.Handler
}

// SettlementRoutes creates and returns a new router for the settlement service.
func SettlementRoutes(h *SettlementHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Delivery confirmation waits for a source-chain receipt.
	r.Use(middleware.Timeout(3 * time.Minute))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/internal/payments", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/reconcile", h.ReconcileHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(WalletAuthMiddleware(cfg.JWKSURL, cfg.Auth))

		r.Get("/payments/{id}", h.GetPaymentHandler)
		r.Post("/payments/{id}/confirm-delivery", h.ConfirmDeliveryHandler)
		r.Post("/payments/{id}/refund", h.RefundHandler)
		r.Post("/payments/{id}/manual-complete", h.ManualCompleteHandler)
		r.Post("/payments/{id}/resume", h.ResumeHandler)
	})

	return r
}

// SplitOrigins parses a comma separated CORS origin list.
func SplitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
