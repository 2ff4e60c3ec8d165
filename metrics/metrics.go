// Package metrics holds the Prometheus collectors of the stealth payment
// components and the HTTP server exposing them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "waveswap"

// Metrics groups the collectors. Components receive it through options and
// fall back to an unregistered instance.
type Metrics struct {
	ScanPasses            prometheus.Counter
	AnnouncementsExamined prometheus.Counter
	ViewTagHits           prometheus.Counter
	ConfirmedMatches      prometheus.Counter

	Sends              *prometheus.CounterVec
	Claims             *prometheus.CounterVec
	RegistrationChunks prometheus.Counter
	SubmitRetries      prometheus.Counter
	RelayerRequests    *prometheus.CounterVec
	ExecutorPayouts    *prometheus.CounterVec
	TransactionLatency prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := newMetrics()
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewUnregistered returns collectors that are not exported anywhere.
func NewUnregistered() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}
	counterVec := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Metrics{
		ScanPasses:            counter("scanner", "passes_total", "Completed announcement scan passes"),
		AnnouncementsExamined: counter("scanner", "announcements_examined_total", "Finalized unclaimed announcements examined"),
		ViewTagHits:           counter("scanner", "view_tag_hits_total", "Announcements passing the view tag prefilter"),
		ConfirmedMatches:      counter("scanner", "confirmed_matches_total", "Announcements confirmed by full derivation"),

		Sends:              counterVec("send", "total", "Send attempts by tier and result", "tier", "result"),
		Claims:             counterVec("claim", "total", "Claims by mode and result", "mode", "result"),
		RegistrationChunks: counter("registration", "chunks_total", "Registration chunks uploaded"),
		SubmitRetries:      counter("ledger", "submit_retries_total", "Transaction submissions retried after transient errors"),
		RelayerRequests:    counterVec("relayer", "requests_total", "Relayer requests by route and result", "route", "result"),
		ExecutorPayouts:    counterVec("executor", "payouts_total", "Delegated deposits processed by result", "result"),
		TransactionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "confirmation_seconds",
			Help:      "Time from submission to confirmation",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ScanPasses, m.AnnouncementsExamined, m.ViewTagHits, m.ConfirmedMatches,
		m.Sends, m.Claims, m.RegistrationChunks, m.SubmitRetries,
		m.RelayerRequests, m.ExecutorPayouts, m.TransactionLatency,
	}
}

// Result label values.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultFundsSafe = "funds_safe"
	ResultDuplicate = "duplicate"
)

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// NewServer creates a metrics server for the gatherer. A nil gatherer serves
// the default registry.
func NewServer(addr string, gatherer prometheus.Gatherer) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the metrics handler for tests.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}
