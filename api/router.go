// Package api exposes payment history and submission over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/batchpay"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/polling"
	"github.com/vitwit/batchpay/types"
)

// Engine is the part of *batchpay.BatchPay the handlers use.
type Engine interface {
	Pay(ctx context.Context, recipients []types.Recipient) (*batchpay.Payment, error)
	Refresh(ctx context.Context, id string) (polling.Result, bool, error)
	History(ctx context.Context) ([]types.PaymentRecord, error)
	Lookup(ctx context.Context, id string) (types.PaymentRecord, error)
}

// NewRouter creates the chi router with all API routes mounted. gatherer may
// be nil, in which case /metrics is not served.
func NewRouter(engine Engine, log logger.Logger, gatherer prometheus.Gatherer) http.Handler {
	h := &Handlers{engine: engine, logger: logger.OrNoop(log)}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/healthz", h.Health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/payments", h.ListPayments)
		r.Post("/payments", h.CreatePayment)
		r.Get("/payments/{id}", h.GetPayment)
		r.Post("/payments/{id}/refresh", h.RefreshPayment)
	})

	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request", map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
		})
	}
}
