package service

import (
	"context"
	"time"
)

// IngestPool bounds how many ingestions run at once. LLM-backed ingestion is
// slow and provider-rate-limited, so unbounded request concurrency would
// pile up completions; callers block until a slot frees or their context
// ends.
type IngestPool struct {
	slots   chan struct{}
	timeout time.Duration
}

// NewIngestPool creates a pool with the given number of slots. Each admitted
// call runs under the pool's per-ingestion timeout.
func NewIngestPool(workers int, timeout time.Duration) *IngestPool {
	if workers <= 0 {
		workers = 1
	}
	return &IngestPool{
		slots:   make(chan struct{}, workers),
		timeout: timeout,
	}
}

// Run executes fn once a slot is available. The context handed to fn carries
// the pool's ingestion timeout.
func (p *IngestPool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return fn(ctx)
}
