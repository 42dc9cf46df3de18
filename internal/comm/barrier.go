package comm

import (
	"context"
	"fmt"
	"sync"
)

// barrier is a reusable rendezvous for a fixed group size. The last rank to
// arrive releases the generation and arms the next one, so back-to-back
// barriers are safe.
type barrier struct {
	size int

	mu      sync.Mutex
	count   int
	release chan struct{}
}

func newBarrier(size int) *barrier {
	return &barrier{size: size, release: make(chan struct{})}
}

func (b *barrier) await(ctx context.Context) error {
	b.mu.Lock()
	ch := b.release
	b.count++
	if b.count == b.size {
		b.count = 0
		b.release = make(chan struct{})
		close(ch)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("comm: barrier abandoned: %w", ctx.Err())
	}
}
