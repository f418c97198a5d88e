package http

import (
	"net/http"

	"github.com/fjod/go_cart/checkout-engine/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	InvoicesDir     string
	Gatherer        prometheus.Gatherer
	Metrics         *metrics.Metrics
	Logger          zerolog.Logger
	MaxRequestBytes int64
}

func NewRouter(orders *OrdersHandler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(cfg.Logger))
	r.Use(cfg.Metrics.Middleware)
	if cfg.MaxRequestBytes > 0 {
		r.Use(middleware.RequestSize(cfg.MaxRequestBytes))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(UserIDMiddleware)
		r.Route("/orders", func(r chi.Router) {
			r.Post("/checkout", orders.Checkout)
			r.Get("/", orders.ListOrders)
			r.Get("/{order_id}", orders.GetOrder)
			r.Patch("/{order_id}/status", orders.UpdateStatus)
			r.Post("/{order_id}/cancel", orders.CancelOrder)
			if cfg.InvoicesDir != "" {
				invoices := NewInvoicesHandler(orders.svc, cfg.InvoicesDir, orders.timeout)
				r.Get("/{order_id}/invoice", invoices.Download)
			}
		})
	})

	return r
}
