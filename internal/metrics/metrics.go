// Package metrics provides Prometheus instrumentation for the fund share service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeNotFound = "not_found"
	OutcomeCacheHit = "cache_hit"
)

var (
	// NavFetchTotal counts NAV source calls by source and outcome.
	NavFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundshare_nav_fetch_total",
		Help: "NAV source fetch attempts",
	}, []string{"source", "outcome"})

	// NavFetchDuration tracks NAV source latency.
	NavFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundshare_nav_fetch_duration_seconds",
		Help:    "NAV source fetch latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"source"})

	// RefreshCyclesTotal counts refresh cycles by outcome (updated, empty, skipped, failed).
	RefreshCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundshare_refresh_cycles_total",
		Help: "NAV refresh cycles",
	}, []string{"outcome"})

	RefreshCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundshare_refresh_cycle_duration_seconds",
		Help:    "NAV refresh cycle duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// FundsUpdatedTotal counts funds whose NAV was refreshed.
	FundsUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundshare_funds_updated_total",
		Help: "Funds with a successfully refreshed NAV",
	})

	// LastRefreshTimestamp is the unix time of the last cycle that updated a fund.
	LastRefreshTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundshare_last_refresh_timestamp_seconds",
		Help: "Unix time of the last refresh cycle that updated at least one fund",
	})

	// SettlementsTotal counts per-user settlements by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundshare_settlements_total",
		Help: "Per-user profit settlements",
	}, []string{"outcome"})

	// TransactionsTotal counts applied transactions by type and outcome.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundshare_transactions_total",
		Help: "Buy and sell transactions",
	}, []string{"type", "outcome"})

	// EventsPublishedTotal counts Kafka events by type.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundshare_events_published_total",
		Help: "Events published to Kafka",
	}, []string{"event_type"})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundshare_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundshare_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveFetch records one NAV source call.
func ObserveFetch(source, outcome string, elapsed time.Duration) {
	NavFetchTotal.WithLabelValues(source, outcome).Inc()
	NavFetchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics, labelling by the matched route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
