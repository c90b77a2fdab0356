package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "joplinfs"

// Config represents metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Collector owns the Prometheus registry and the HTTP endpoint that
// exposes it. A nil *Collector is valid and records nothing, so
// components can take one unconditionally.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	syncCycles     prometheus.Counter
	syncEvents     *prometheus.CounterVec
	remoteRequests *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	readBytes      prometheus.Counter
	fsOperations   *prometheus.CounterVec
}

// NewCollector creates a collector with all metrics registered on a
// private registry.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled: true,
			Address: ":9331",
			Path:    "/metrics",
		}
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),

		syncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Completed event poll cycles.",
		}),
		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_total",
			Help:      "Events processed, by application outcome.",
		}, []string{"outcome"}),
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote API requests, by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_seconds",
			Help:      "Remote API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_bytes_total",
			Help:      "Bytes served through the read path.",
		}),
		fsOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fs_operations_total",
			Help:      "Filesystem callbacks received, by operation.",
		}, []string{"op"}),
	}

	collectors := []prometheus.Collector{
		c.syncCycles, c.syncEvents, c.remoteRequests,
		c.remoteDuration, c.readBytes, c.fsOperations,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	return c, nil
}

// RecordSyncCycle counts one completed poll cycle.
func (c *Collector) RecordSyncCycle() {
	if c == nil {
		return
	}
	c.syncCycles.Inc()
}

// RecordEvent counts one processed event by outcome.
func (c *Collector) RecordEvent(outcome string) {
	if c == nil {
		return
	}
	c.syncEvents.WithLabelValues(outcome).Inc()
}

// RecordRemoteRequest counts one remote API call.
func (c *Collector) RecordRemoteRequest(endpoint string, code int, duration time.Duration) {
	if c == nil {
		return
	}
	c.remoteRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	c.remoteDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRead counts bytes served through the read path.
func (c *Collector) RecordRead(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.readBytes.Add(float64(n))
}

// RecordOp counts one filesystem callback.
func (c *Collector) RecordOp(op string) {
	if c == nil {
		return
	}
	c.fsOperations.WithLabelValues(op).Inc()
}

// Serve exposes the registry over HTTP until the context is
// cancelled. It returns immediately when metrics are disabled.
func (c *Collector) Serve(ctx context.Context) error {
	if c == nil || !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:    c.config.Address,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
