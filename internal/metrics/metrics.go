// Package metrics exposes pgtrace's internal counters over a Prometheus
// /metrics endpoint, started only when --metrics-addr is given.
//
// Grounded on runMetricsListener in _examples/lesovsky-pgscv's
// internal/pgscv/pgscv.go: a promhttp.Handler() served over plain
// net/http, run in a goroutine and stopped by context cancellation.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamentis/pgtrace/internal/log"
)

var (
	// SyscallsAnnotated counts every trace line the dispatcher emitted,
	// by syscall name.
	SyscallsAnnotated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pgtrace_syscalls_annotated_total",
		Help: "Total number of trace lines annotated, by syscall.",
	}, []string{"func"})

	// RNCacheHits counts relation-name cache hits, by origin.
	RNCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pgtrace_rncache_hits_total",
		Help: "Total number of relation-name cache hits, by origin.",
	}, []string{"origin"})

	// RNCacheMisses counts relation-name cache misses.
	RNCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pgtrace_rncache_misses_total",
		Help: "Total number of relation-name cache misses.",
	})

	// PFDCacheSize tracks the live fd cache size.
	PFDCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pgtrace_pfd_cache_size",
		Help: "Number of file descriptors currently tracked.",
	})

	// FatalLines counts trace lines the parser rejected, by reason.
	FatalLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pgtrace_fatal_lines_total",
		Help: "Total number of trace lines that could not be processed, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(SyscallsAnnotated, RNCacheHits, RNCacheMisses, PFDCacheSize, FatalLines)
}

// Listen starts the metrics HTTP server on addr and blocks until either it
// fails or ctx is cancelled, mirroring runMetricsListener's errCh/ctx.Done
// select loop.
func Listen(ctx context.Context, addr string) error {
	log.Infof("accepting requests on http://%s/metrics", addr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("exit signaled, stop metrics listener")
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
