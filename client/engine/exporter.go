package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter mirrors the statistics as Prometheus metrics. It is a SampleSink
// and serves /metrics when a listen address is configured.
type Exporter struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	users    prometheus.Gauge

	listen string
	server *http.Server
	logger *slog.Logger
}

// NewExporter registers the load test metrics on a private registry.
func NewExporter(cfg *Config, logger *slog.Logger) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stackload",
			Name:      "requests_total",
			Help:      "Requests sent to the target by name and status code.",
		}, []string{"name", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stackload",
			Name:      "request_failures_total",
			Help:      "Failed requests by name.",
		}, []string{"name"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stackload",
			Name:      "request_duration_seconds",
			Help:      "Request latency by name.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"name"}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stackload",
			Name:      "users",
			Help:      "Simulated users currently running their task loop.",
		}),
		listen: cfg.MetricsListen,
		logger: logger,
	}

	e.registry.MustRegister(e.requests, e.failures, e.duration, e.users, collectors.NewGoCollector())

	return e
}

func (e *Exporter) Observe(s Sample) {
	status := "error"
	if s.StatusCode > 0 {
		status = strconv.Itoa(s.StatusCode)
	}

	e.requests.WithLabelValues(s.Name, status).Inc()

	if s.Failed() {
		e.failures.WithLabelValues(s.Name).Inc()
	}

	e.duration.WithLabelValues(s.Name).Observe(s.Latency.Seconds())
}

func (e *Exporter) SetUsers(n int64) {
	e.users.Set(float64(n))
}

// Registry exposes the private registry, e.g. for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// Start listens on the configured address. Without an address it is a no-op.
func (e *Exporter) Start(_ context.Context) error {
	if e.listen == "" {
		return nil
	}

	ln, err := net.Listen("tcp", e.listen)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Metrics listener stopped", slog.String("error", err.Error()))
		}
	}()

	e.logger.Info("Serving client metrics", slog.String("address", ln.Addr().String()))

	return nil
}

func (e *Exporter) Stop(ctx context.Context) error {
	if e.server == nil {
		return nil
	}

	return e.server.Shutdown(ctx)
}

var _ SampleSink = (*Exporter)(nil)
