// Package metrics exposes Prometheus instrumentation for the FUSE bridge:
// per-upcall counters and latencies, data volume, and lock-table occupancy.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Port:    9090,
		Path:    "/metrics",
	}
}

// Collector implements metrics collection for mount adapters. A nil
// *Collector is valid and records nothing, so instrumentation call sites
// need no guards.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	upcallCounter  *prometheus.CounterVec
	upcallDuration *prometheus.HistogramVec
	errorCounter   *prometheus.CounterVec
	bytesRead      prometheus.Counter
	bytesWritten   prometheus.Counter

	server *http.Server
}

// NewCollector creates a new metrics collector. Returns nil (a valid no-op
// collector) when metrics are disabled.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return nil, nil
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		config:   config,
		registry: registry,
		upcallCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgefs",
			Name:      "upcalls_total",
			Help:      "Number of FUSE upcalls handled, by operation.",
		}, []string{"op"}),
		upcallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bridgefs",
			Name:      "upcall_duration_seconds",
			Help:      "Latency of FUSE upcalls, by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		errorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgefs",
			Name:      "upcall_errors_total",
			Help:      "Number of failed FUSE upcalls, by operation.",
		}, []string{"op"}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgefs",
			Name:      "bytes_read_total",
			Help:      "Bytes served by read upcalls.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgefs",
			Name:      "bytes_written_total",
			Help:      "Bytes accepted by write upcalls.",
		}),
	}

	registry.MustRegister(c.upcallCounter, c.upcallDuration, c.errorCounter, c.bytesRead, c.bytesWritten)
	return c, nil
}

// ObserveUpcall records one handled upcall.
func (c *Collector) ObserveUpcall(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.upcallCounter.WithLabelValues(op).Inc()
	c.upcallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.errorCounter.WithLabelValues(op).Inc()
	}
}

// AddBytesRead accounts bytes served by read upcalls.
func (c *Collector) AddBytesRead(n int) {
	if c == nil {
		return
	}
	c.bytesRead.Add(float64(n))
}

// AddBytesWritten accounts bytes accepted by write upcalls.
func (c *Collector) AddBytesWritten(n int) {
	if c == nil {
		return
	}
	c.bytesWritten.Add(float64(n))
}

// RegisterLockGauges exports the live lock-table sizes. The callbacks are
// invoked on scrape.
func (c *Collector) RegisterLockGauges(pathLocks, dataLocks func() int) {
	if c == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "bridgefs",
		Name:      "path_lock_entries",
		Help:      "Number of live path-lock map entries.",
	}, func() float64 { return float64(pathLocks()) }))
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "bridgefs",
		Name:      "data_lock_entries",
		Help:      "Number of live data-lock map entries.",
	}, func() float64 { return float64(dataLocks()) }))
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start() error {
	if c == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		err := c.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			_ = err // best effort endpoint
		}
	}()
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
