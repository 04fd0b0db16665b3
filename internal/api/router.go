package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/auction-fulfillment/internal/api/middleware"
	"github.com/example/auction-fulfillment/internal/auth"
	"github.com/example/auction-fulfillment/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// RouterConfig holds everything the HTTP surface depends on.
type RouterConfig struct {
	Handlers   *Handlers
	JWTService *auth.JWTService
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	h := cfg.Handlers

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.AccessLog(logger, cfg.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "readiness check failed", "error", err)
				middleware.WriteError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "not ready")
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Reputation is public
		r.Get("/users/{id}/reputation", h.GetReputation)
		r.Get("/users/{id}/ratings/received", h.ListRatingsReceived)
		r.Get("/users/{id}/ratings/given", h.ListRatingsGiven)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.JWTService))

			r.With(middleware.RequireRole(auth.RoleService, auth.RoleAdmin)).Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/by-product/{productID}", h.GetOrderByProduct)

			r.Route("/orders/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Post("/payment-evidence", h.SubmitPaymentEvidence)
				r.Post("/shipment", h.ConfirmShipment)
				r.Post("/delivery", h.ConfirmDelivery)
				r.Post("/cancel", h.CancelOrder)
				r.Post("/ratings", h.SubmitRating)
				r.Get("/messages", h.ListMessages)
				r.Post("/messages", h.AppendMessage)
			})
		})
	})

	return r
}
