// Package metrics exposes Prometheus counters and histograms for the decode,
// convert, and sink stages of the pipeline, plus a minimal HTTP server to
// serve them.
package metrics

import (
	"cmp"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	DecodedChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcdc_decoded_changes_total",
			Help: "Total number of decoded pgoutput messages by tag",
		},
		[]string{"tag"},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcdc_decode_errors_total",
			Help: "Total number of wire decode errors",
		},
		[]string{"kind"},
	)

	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcdc_sink_writes_total",
			Help: "Total number of sink write attempts by sink and result",
		},
		[]string{"sink", "result"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcdc_conversion_duration_seconds",
			Help:    "Duration of format conversion per change",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format"},
	)

	RelationCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgcdc_relation_cache_size",
			Help: "Number of relations currently cached",
		},
	)
)

// ServerOpts configures the metrics HTTP endpoint.
type ServerOpts struct {
	Addr              string
	Path              string // defaults to "/metrics"
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

func defaultServerOpts() ServerOpts {
	return ServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartServer runs a Prometheus metrics endpoint until ctx is canceled,
// signaling wg when the server has fully shut down.
func StartServer(ctx context.Context, wg *sync.WaitGroup, opts *ServerOpts, logger *zap.Logger) {
	effective := defaultServerOpts()
	if opts != nil {
		effective.Addr = cmp.Or(opts.Addr, effective.Addr)
		effective.Path = cmp.Or(opts.Path, effective.Path)
		effective.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effective.ShutdownTimeout)
		effective.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effective.ReadHeaderTimeout)
	}
	if logger == nil {
		logger = zap.L()
	}

	mux := http.NewServeMux()
	mux.Handle(effective.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effective.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effective.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})
	wg.Add(1)

	go func() {
		defer wg.Done()
		logger.Info("starting metrics server", zap.String("addr", effective.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), effective.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("metrics server shutdown timed out")
		}
	}()
}
