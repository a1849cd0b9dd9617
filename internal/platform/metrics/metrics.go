package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/observability"
)

const namespace = "dingdong"

// Registry owns the Prometheus collectors of the API. It implements
// services.OperationRecorder.
type Registry struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	orderOperations   *prometheus.CounterVec
	walletMovements   *prometheus.CounterVec
	walletAmount      *prometheus.CounterVec
	authVerifications *prometheus.CounterVec
	authDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
		orderOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_operations_total",
			Help:      "Total number of order lifecycle operations",
		}, []string{"operation", "outcome"}),
		walletMovements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_movements_total",
			Help:      "Total number of wallet ledger entries",
		}, []string{"type", "reason"}),
		walletAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_movement_amount_total",
			Help:      "Sum of wallet movements in minor currency units",
		}, []string{"type", "reason"}),
		authVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_verifications_total",
			Help:      "Authentication checks by guard, outcome and reason",
		}, []string{"guard", "outcome", "reason"}),
		authDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_verification_duration_seconds",
			Help:      "Duration of authentication checks",
			Buckets:   prometheus.DefBuckets,
		}, []string{"guard"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware counts requests and observes their latency by chi route pattern.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			labels := prometheus.Labels{
				"method": req.Method,
				"route":  observability.RoutePattern(req),
				"status": strconv.Itoa(status),
			}
			r.httpRequests.With(labels).Inc()
			r.httpDuration.With(labels).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(ww, req)
	})
}

// RecordOrderOperation counts an order lifecycle operation such as placed or paid.
func (r *Registry) RecordOrderOperation(_ context.Context, operation string, outcome string) {
	r.orderOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordWalletMovement counts one ledger entry and its amount.
func (r *Registry) RecordWalletMovement(_ context.Context, kind domain.WalletTransactionType, reason domain.WalletReason, amount int64) {
	r.walletMovements.WithLabelValues(string(kind), string(reason)).Inc()
	if amount > 0 {
		r.walletAmount.WithLabelValues(string(kind), string(reason)).Add(float64(amount))
	}
}

// RecordVerification implements auth.MetricsRecorder for the HMAC and OIDC guards.
func (r *Registry) RecordVerification(_ context.Context, guard string, success bool, reason string, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "rejected"
	}
	r.authVerifications.WithLabelValues(guard, outcome, reason).Inc()
	r.authDuration.WithLabelValues(guard).Observe(duration.Seconds())
}
