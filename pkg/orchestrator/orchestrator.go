// Package orchestrator owns the relation cache and the configured sink,
// driving the decode-convert-dispatch loop for each incoming change.
package orchestrator

import (
	"context"

	"github.com/edgeflare/pgcdc/pkg/decoder"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/sink"
	"go.uber.org/zap"
)

// Orchestrator processes decoded changes in arrival order: it updates the
// relation cache before dispatch for RELATION frames, writes every change to
// the sink, and on sink error logs a diagnostic and continues. It never
// reorders, buffers, or groups events.
type Orchestrator struct {
	cache  *decoder.RelationCache
	sink   sink.Sink
	logger *zap.Logger
}

// New returns an Orchestrator over cache and sink. logger defaults to
// zap.L() when nil.
func New(cache *decoder.RelationCache, s sink.Sink, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	return &Orchestrator{cache: cache, sink: s, logger: logger}
}

// Process dispatches a single decoded change to the sink. Decode errors are
// the caller's concern (they end the stream per spec); sink errors are
// logged here and never returned, so the stream can continue.
func (o *Orchestrator) Process(ctx context.Context, change decoder.Change) {
	metrics.DecodedChanges.WithLabelValues(string(change.Tag)).Inc()
	if change.Tag == decoder.TagRelation {
		o.cache.Put(*change.Relation)
		metrics.RelationCacheSize.Set(float64(o.cache.Len()))
	}

	if err := o.sink.WriteChange(ctx, change); err != nil {
		metrics.SinkWrites.WithLabelValues("composite", "error").Inc()
		o.logger.Error("sink write failed",
			zap.String("tag", string(change.Tag)),
			zap.Error(err),
		)
		return
	}
	metrics.SinkWrites.WithLabelValues("composite", "ok").Inc()
}

// Close releases the underlying sink's resources.
func (o *Orchestrator) Close() error {
	return o.sink.Close()
}
