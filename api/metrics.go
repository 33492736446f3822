package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/fuelstation/shift"
)

const (
	metricPrefix = "fuelstation_"

	resultSuccess  = "success"
	resultRejected = "rejected"
	resultConflict = "conflict"
	resultError    = "error"
)

// Metrics holds the server's collectors on a private registry so several
// handlers can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	requests        *prometheus.HistogramVec
	assignments     *prometheus.CounterVec
	closings        *prometheus.CounterVec
	cashSettlements *prometheus.CounterVec
	staleOpenShifts prometheus.Gauge
}

// NewMetrics registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		assignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "assignments_total",
				Help: "Total assign requests by outcome",
			},
			[]string{"outcome"},
		),
		closings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "shift_closings_total",
				Help: "Total shift close submissions by result",
			},
			[]string{"result"},
		),
		cashSettlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cash_settlements_total",
				Help: "Total cash settlement submissions by result and adjustment",
			},
			[]string{"result", "adjustment"},
		),
		staleOpenShifts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stale_open_shifts",
				Help: "Open assignments dated before today at the last check",
			},
		),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.assignments,
		m.closings,
		m.cashSettlements,
		m.staleOpenShifts,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Instrument records request latency by chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// ObserveAssign counts an assign request. Errors are counted by class.
func (m *Metrics) ObserveAssign(outcome shift.AssignOutcome, err error) {
	label := string(outcome)
	if err != nil {
		label = resultLabel(err)
	}
	m.assignments.WithLabelValues(label).Inc()
}

// ObserveClosing counts a shift close submission.
func (m *Metrics) ObserveClosing(err error) {
	m.closings.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveCashSettlement counts a cash settlement submission.
func (m *Metrics) ObserveCashSettlement(adjustment string, err error) {
	if adjustment == "" {
		adjustment = "none"
	}
	m.cashSettlements.WithLabelValues(resultLabel(err), adjustment).Inc()
}

// SetStaleOpenShifts records the result of the last watchdog check.
func (m *Metrics) SetStaleOpenShifts(n int) {
	m.staleOpenShifts.Set(float64(n))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case shift.IsConflict(err):
		return resultConflict
	case shift.IsValidation(err), shift.IsNotFound(err):
		return resultRejected
	default:
		return resultError
	}
}
