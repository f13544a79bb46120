package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// CompositeSink fans a change out to an ordered set of child sinks. Every
// child is attempted for every change regardless of earlier failures; the
// composite returns the first error encountered, if any.
type CompositeSink struct {
	children []Sink
}

// NewCompositeSink wraps children in fan-out order.
func NewCompositeSink(children ...Sink) *CompositeSink {
	return &CompositeSink{children: children}
}

func (c *CompositeSink) WriteChange(ctx context.Context, change decoder.Change) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, child := range c.children {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.WriteChange(ctx, change); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("sink: child failed: %w", err)
				}
				mu.Unlock()
			}
		}(child)
	}
	wg.Wait()
	return firstErr
}

func (c *CompositeSink) Close() error {
	var firstErr error
	for _, child := range c.children {
		if err := child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
