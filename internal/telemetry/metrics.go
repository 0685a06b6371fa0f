package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"planline/internal/domain"
)

const namespace = "planline"

// Metrics holds the projection and API collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	projections        *prometheus.CounterVec
	projectionDuration *prometheus.HistogramVec
	violations         *prometheus.CounterVec
	scheduledItems     *prometheus.GaugeVec
	unscheduledItems   *prometheus.GaugeVec
	allocatedHours     *prometheus.GaugeVec
	capacityGap        *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics builds a registry with all collectors plus Go runtime metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,

		projections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "projections_total",
				Help:      "Projections computed, by kind",
			},
			[]string{"kind"},
		),
		projectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "projection_duration_seconds",
				Help:      "Wall time spent computing a projection",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"kind"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "structural_violations_total",
				Help:      "Structural violations reported by projections",
			},
			[]string{"kind"},
		),
		scheduledItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduled_items",
				Help:      "Scheduled items in the latest projection",
			},
			[]string{"portfolio"},
		),
		unscheduledItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "unscheduled_items",
				Help:      "Unscheduled items in the latest projection",
			},
			[]string{"portfolio"},
		),
		allocatedHours: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "allocated_hours",
				Help:      "Total allocated hours in the latest projection",
			},
			[]string{"portfolio"},
		),
		capacityGap: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capacity_gap_hours",
				Help:      "Demand minus capacity per skill in the latest projection",
			},
			[]string{"portfolio", "skill"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	registry.MustRegister(
		m.projections,
		m.projectionDuration,
		m.violations,
		m.scheduledItems,
		m.unscheduledItems,
		m.allocatedHours,
		m.capacityGap,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// RecordProjection records one computed scenario.
func (m *Metrics) RecordProjection(portfolioID, kind string, s domain.Scenario, took time.Duration) {
	if m == nil {
		return
	}
	m.projections.WithLabelValues(kind).Inc()
	m.projectionDuration.WithLabelValues(kind).Observe(took.Seconds())
	for _, v := range s.StructuralViolations {
		m.violations.WithLabelValues(v.Kind).Inc()
	}
	m.scheduledItems.WithLabelValues(portfolioID).Set(float64(s.Summary.ScheduledItems))
	m.unscheduledItems.WithLabelValues(portfolioID).Set(float64(s.Summary.UnscheduledItems))
	m.allocatedHours.WithLabelValues(portfolioID).Set(s.Summary.TotalAllocatedHours)
	for _, g := range s.CapacityGaps {
		m.capacityGap.WithLabelValues(portfolioID, g.Skill).Set(g.Gap)
	}
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
