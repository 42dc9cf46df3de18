package device

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/walkanth/sweptgo/internal/ctxlog"
	"github.com/walkanth/sweptgo/internal/indexset"
)

// cpuTask is one block of one layer, handed to a pool worker.
type cpuTask struct {
	job    Job
	origin indexset.Point
	layer  indexset.Layer
	ts     int
	done   *sync.WaitGroup
	errs   chan<- error
}

// CPU executes phases on a bounded worker pool. Workers persist across
// launches; one Launch dispatches every block of a layer, waits for the
// layer to drain, then moves to the next layer.
type CPU struct {
	tasks chan cpuTask

	mu       sync.Mutex
	released bool
}

// PoolSize returns the worker count for a rank sharing a machine with
// localRanks siblings: the idle cores plus the one the rank itself holds.
func PoolSize(localRanks int) int {
	n := runtime.NumCPU() - localRanks + 1
	if n < 1 {
		n = 1
	}
	return n
}

// NewCPU starts a pool of the given number of workers.
func NewCPU(ctx context.Context, workers int) (*CPU, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("device: cpu pool needs at least one worker, got %d", workers)
	}
	c := &CPU{tasks: make(chan cpuTask)}
	for id := 0; id < workers; id++ {
		go c.worker(ctx, id)
	}
	return c, nil
}

// worker is the processing loop of one pool worker.
func (c *CPU) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Device worker started.", "workerID", workerID)

	for t := range c.tasks {
		if ctx.Err() != nil {
			t.errs <- ctx.Err()
			t.done.Done()
			continue
		}
		if err := runBlock(t.job, t.origin, t.layer, t.ts); err != nil {
			logger.Error("Block execution failed.", "workerID", workerID, "origin", t.origin, "error", err)
			t.errs <- err
		}
		t.done.Done()
	}
	logger.Debug("Device worker finished.", "workerID", workerID)
}

// Launch runs one phase job, layer by layer, blocks of a layer in parallel.
func (c *CPU) Launch(ctx context.Context, job Job) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return fmt.Errorf("device: launch on released cpu device")
	}
	c.mu.Unlock()

	origins, err := Blocks(job)
	if err != nil {
		return err
	}
	for k, layer := range job.Layers {
		errs := make(chan error, len(origins))
		var done sync.WaitGroup
		for _, origin := range origins {
			done.Add(1)
			c.tasks <- cpuTask{job: job, origin: origin, layer: layer, ts: job.TS + k, done: &done, errs: errs}
		}
		done.Wait()
		close(errs)
		for err := range errs {
			return fmt.Errorf("device: cpu layer %d: %w", k, err)
		}
	}
	return nil
}

// Release stops the pool. Idempotent.
func (c *CPU) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	close(c.tasks)
}
