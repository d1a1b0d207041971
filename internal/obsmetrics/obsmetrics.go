// Package obsmetrics exposes process-internal operational metrics over
// Prometheus, independent of the scripting tracker registry. Grounded on the
// teacher's internal/metrics/metrics.go (global collector vars registered
// once, served via promhttp.Handler), trimmed to the counters/gauges/
// histograms this pipeline actually has stages for: lines read, parse
// errors, and per-stage latency.
package obsmetrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry = prometheus.NewRegistry()

	LinesRead = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kelora_lines_read_total",
			Help: "Total raw lines read from all sources",
		},
		[]string{"source"},
	)

	ParseErrorsTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kelora_parse_errors_total",
			Help: "Total parse errors encountered, by parser",
		},
		[]string{"parser"},
	)

	EventsEmitted = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kelora_events_emitted_total",
			Help: "Total events forwarded to the formatter",
		},
		[]string{"source"},
	)

	StageLatencySeconds = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kelora_stage_latency_seconds",
			Help:    "Time spent evaluating a compiled stage expression",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)

// Server serves /metrics for as long as the pipeline runs. Opt-in via
// --metrics-addr; it never substitutes for the --metrics/--metrics-file
// tracker dump, it is purely ambient process health.
type Server struct {
	srv *http.Server
	log *logrus.Entry
}

// NewServer builds (but does not start) a metrics server bound to addr.
func NewServer(addr string, log *logrus.Entry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: log,
	}
}

// Start runs the server in the background. Bind failures are logged, not
// fatal: ambient observability is never allowed to abort a pipeline run.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Warn("metrics server stopped")
		}
	}()
}

// Stop shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ObserveStage records how long a single stage evaluation took.
func ObserveStage(stage string, d time.Duration) {
	StageLatencySeconds.WithLabelValues(stage).Observe(d.Seconds())
}
