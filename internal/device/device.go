// Package device abstracts where a phase executes. A phase is handed to a
// device as a Job: the haloed window copy, the layer sequence to run, and
// the kernel. The device walks the window's grid of blocks and applies
// the kernel layer by layer; the CPU device spreads the blocks of one
// layer over a worker pool, the GPU device simulates a single whole-grid
// launch per layer on an exclusively held device id. Either way layer k
// reads plane TS+k and writes plane TS+k+1, and layers run strictly in
// order because layer k+1 consumes layer k's output.
package device

import (
	"context"
	"fmt"

	"github.com/walkanth/sweptgo/internal/indexset"
	"github.com/walkanth/sweptgo/internal/kernel"
	"github.com/walkanth/sweptgo/internal/region"
	"github.com/walkanth/sweptgo/internal/tensor"
)

// Job is one phase launch over a haloed window.
type Job struct {
	// Local is the phase window read from the arena, spatial extent
	// (w + 2*OPS) per axis for a w-wide region.
	Local *tensor.Tensor
	// Layers run in order; Layers[k] updates plane TS+k+1 from plane TS+k.
	Layers []indexset.Layer
	// TS is the read plane of the first layer.
	TS     int
	BS     int
	OPS    int
	Kernel kernel.Kernel
}

// Context runs phase jobs until released. Release is idempotent; Launch
// after Release is a fatal usage error surfaced as an error return.
type Context interface {
	Launch(ctx context.Context, job Job) error
	Release()
}

// Blocks enumerates the block origins of a job's window interior.
func Blocks(j Job) ([]indexset.Point, error) {
	sh := j.Local.Shape()
	ix, iy := sh[2]-2*j.OPS, sh[3]-2*j.OPS
	if ix <= 0 || iy <= 0 || ix%j.BS != 0 || iy%j.BS != 0 {
		return nil, fmt.Errorf("device: window interior (%d, %d) is not a grid of %d-blocks", ix, iy, j.BS)
	}
	var origins []indexset.Point
	for bx := 0; bx < ix; bx += j.BS {
		for by := 0; by < iy; by += j.BS {
			origins = append(origins, indexset.Point{X: bx, Y: by})
		}
	}
	return origins, nil
}

// runBlock copies one haloed block out of the window, applies one layer of
// the kernel, and folds the result back in. The copy takes only planes up
// to ts and the fold returns only the layer's rectangle of plane ts+1:
// blocks of one layer therefore never read memory a concurrent block is
// writing, and values complementary phases already placed at plane ts+1
// are never clobbered.
func runBlock(j Job, origin indexset.Point, layer indexset.Layer, ts int) error {
	sh := j.Local.Shape()
	side := j.BS + 2*j.OPS
	src := region.MustNew(
		region.Span{Stop: ts + 1},
		region.Span{Stop: sh[1]},
		region.Span{Start: origin.X, Stop: origin.X + side},
		region.Span{Start: origin.Y, Stop: origin.Y + side},
	)
	read, err := j.Local.ReadRegion(src)
	if err != nil {
		return fmt.Errorf("device: block copy out: %w", err)
	}
	blk := tensor.New(ts+2, sh[1], side, side)
	past := src
	past.X = region.Span{Stop: side}
	past.Y = region.Span{Stop: side}
	if err := blk.WriteRegion(past, read); err != nil {
		return fmt.Errorf("device: block stage: %w", err)
	}
	if err := j.Kernel.Step(blk, layer, ts); err != nil {
		return err
	}
	r := layer.Bounds()
	wrote := region.MustNew(
		region.Span{Start: ts + 1, Stop: ts + 2},
		region.Span{Stop: sh[1]},
		region.Span{Start: r.X0, Stop: r.X1},
		region.Span{Start: r.Y0, Stop: r.Y1},
	)
	out, err := blk.ReadRegion(wrote)
	if err != nil {
		return fmt.Errorf("device: layer window: %w", err)
	}
	if err := j.Local.WriteRegion(wrote.ShiftSpatial(origin.X, origin.Y), out); err != nil {
		return fmt.Errorf("device: block copy in: %w", err)
	}
	return nil
}
