// Package sink fans decoded changes out to heterogeneous destinations:
// standard output in any convert format, a JetStream-style message bus,
// an HTTP ingress endpoint, and a handful of supplemental backends.
package sink

import (
	"context"

	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// Sink is the contract every destination implements. WriteChange is called
// once per decoded change, sequentially per sink instance. Implementations
// must be safe to call from a single goroutine at a time; the composite sink
// handles any fan-out concurrency.
type Sink interface {
	WriteChange(ctx context.Context, change decoder.Change) error
	Close() error
}
