// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the Prometheus middleware counting adapter calls and
// observing their latency.
package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors updated by MetricsMiddleware.
type Metrics struct {
	// OperationsTotal counts adapter calls by collection, operation and outcome.
	OperationsTotal *prometheus.CounterVec
	// OperationDuration is the latency of adapter calls.
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offshore_operations_total",
				Help: "Total number of adapter operations",
			},
			[]string{"collection", "operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "offshore_operation_duration_seconds",
				Help:    "Adapter operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection", "operation"},
		),
	}
}

// Middleware returns a middleware recording every operation in m.
//
// Example:
//
//	metrics := core.NewMetrics(prometheus.DefaultRegisterer)
//	registry.Use(metrics.Middleware())
func (m *Metrics) Middleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload *OperationPayload) error {
			start := time.Now()
			err := next(ctx, op, payload)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.OperationsTotal.WithLabelValues(payload.Collection, string(op), outcome).Inc()
			m.OperationDuration.WithLabelValues(payload.Collection, string(op)).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// MetricsMiddleware is a shorthand for NewMetrics(reg).Middleware().
func MetricsMiddleware(reg prometheus.Registerer) Middleware {
	return NewMetrics(reg).Middleware()
}
