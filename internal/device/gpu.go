package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/walkanth/sweptgo/internal/ctxlog"
	"github.com/walkanth/sweptgo/internal/region"
	"github.com/walkanth/sweptgo/internal/tensor"
)

// gpuIDs tracks which simulated device ids are held. A device id belongs
// to exactly one rank between acquisition and release.
var gpuIDs = struct {
	mu   sync.Mutex
	held map[int]bool
}{held: map[int]bool{}}

// GPU simulates an accelerator: an exclusively held device id and a
// persistent scratch buffer standing in for device memory. One Launch
// covers the whole owned grid per layer; blocks stream through the scratch
// sequentially, which models a single wide kernel launch without
// host-side parallelism.
type GPU struct {
	id      int
	scratch *tensor.Tensor

	mu       sync.Mutex
	released bool
}

// NewGPU acquires device id exclusively.
func NewGPU(ctx context.Context, id int) (*GPU, error) {
	gpuIDs.mu.Lock()
	defer gpuIDs.mu.Unlock()
	if gpuIDs.held[id] {
		return nil, fmt.Errorf("device: gpu %d already held", id)
	}
	gpuIDs.held[id] = true
	ctxlog.FromContext(ctx).Debug("GPU acquired.", "device", id)
	return &GPU{id: id}, nil
}

// ID returns the held device id.
func (g *GPU) ID() int { return g.id }

// Launch runs one phase job on the device.
func (g *GPU) Launch(ctx context.Context, job Job) error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return fmt.Errorf("device: launch on released gpu %d", g.id)
	}
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	origins, err := Blocks(job)
	if err != nil {
		return err
	}
	sh := job.Local.Shape()
	side := job.BS + 2*job.OPS
	if g.scratch == nil || g.scratch.Shape() != [4]int{sh[0], sh[1], side, side} {
		g.scratch = tensor.New(sh[0], sh[1], side, side)
	}

	for k, layer := range job.Layers {
		ts := job.TS + k
		r := layer.Bounds()
		for _, origin := range origins {
			// Upload the planes the kernel reads; plane ts+1 stays scratch
			// residue and only the freshly written layer rectangle comes
			// back down.
			past := region.MustNew(
				region.Span{Stop: ts + 1},
				region.Span{Stop: sh[1]},
				region.Span{Stop: side},
				region.Span{Stop: side},
			)
			if err := g.scratch.CopyWindow(past, job.Local, past.ShiftSpatial(origin.X, origin.Y)); err != nil {
				return fmt.Errorf("device: gpu %d block upload: %w", g.id, err)
			}
			if err := job.Kernel.Step(g.scratch, layer, ts); err != nil {
				return fmt.Errorf("device: gpu %d layer %d: %w", g.id, k, err)
			}
			wrote := region.MustNew(
				region.Span{Start: ts + 1, Stop: ts + 2},
				region.Span{Stop: sh[1]},
				region.Span{Start: r.X0, Stop: r.X1},
				region.Span{Start: r.Y0, Stop: r.Y1},
			)
			if err := job.Local.CopyWindow(wrote.ShiftSpatial(origin.X, origin.Y), g.scratch, wrote); err != nil {
				return fmt.Errorf("device: gpu %d block download: %w", g.id, err)
			}
		}
	}
	return nil
}

// Release returns the device id. Idempotent.
func (g *GPU) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true
	gpuIDs.mu.Lock()
	delete(gpuIDs.held, g.id)
	gpuIDs.mu.Unlock()
}
