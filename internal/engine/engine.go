// Package engine runs the swept cycle on one rank. A run is a fixed
// sequence of phases over the node-shared arena: the up pyramid opens the
// structure, bridge pairs and octahedra alternate between the base lattice
// and the half-block-shifted lattice, and a down pyramid closes it. Every
// rank of the world executes the same sequence with a full barrier between
// transitions; the node master alone performs arena maintenance (spill
// folds, boundary refresh, time recycling) inside a barrier pair, and
// every rank flushes its own write region to the sink.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/walkanth/sweptgo/internal/arena"
	"github.com/walkanth/sweptgo/internal/config"
	"github.com/walkanth/sweptgo/internal/ctxlog"
	"github.com/walkanth/sweptgo/internal/decomp"
	"github.com/walkanth/sweptgo/internal/device"
	"github.com/walkanth/sweptgo/internal/indexset"
	"github.com/walkanth/sweptgo/internal/kernel"
	"github.com/walkanth/sweptgo/internal/region"
	"github.com/walkanth/sweptgo/internal/sink"
	"github.com/walkanth/sweptgo/internal/tensor"
	"github.com/walkanth/sweptgo/internal/topology"
)

// Params collects everything one rank's engine needs. All ranks of a node
// share the same Arena pointer; Sink is shared by every rank of the run.
type Params struct {
	Run     *config.Run
	Derived config.Derived
	Top     *topology.Topology
	Regs    decomp.Regions
	Arena   *arena.Arena
	Device  device.Context
	Kernel  kernel.Kernel
	Sink    sink.Sink
}

// Engine drives the swept cycle for one rank.
type Engine struct {
	run  *config.Run
	d    config.Derived
	top  *topology.Topology
	regs decomp.Regions
	ar   *arena.Arena
	dev  device.Context
	k    kernel.Kernel
	snk  sink.Sink

	up, down, oct []indexset.Layer
	xb, yb        []indexset.Layer

	// gst counts completed global swept steps, cwt numbers the next
	// checkpoint flush.
	gst, cwt int
}

// New builds the engine and its layer sequences.
func New(p Params) (*Engine, error) {
	if p.Regs.Empty() {
		return nil, fmt.Errorf("engine: rank %d has no region and should have been pruned", p.Top.World.Rank())
	}
	bs, ops := p.Run.BlockSize, p.Run.OPS
	up, err := indexset.Up(bs, bs, ops)
	if err != nil {
		return nil, err
	}
	down, err := indexset.Down(bs, bs, ops)
	if err != nil {
		return nil, err
	}
	oct, err := indexset.Octahedron(bs, bs, ops)
	if err != nil {
		return nil, err
	}
	xb, yb, err := indexset.Bridges(bs, bs, ops)
	if err != nil {
		return nil, err
	}
	return &Engine{
		run: p.Run, d: p.Derived, top: p.Top, regs: p.Regs,
		ar: p.Arena, dev: p.Device, k: p.Kernel, snk: p.Sink,
		up: up, down: down, oct: oct, xb: xb, yb: yb,
		cwt: 1,
	}, nil
}

// floor is the arena time index of the oldest complete slice.
func (e *Engine) floor() int { return e.run.TSO - 1 }

func (e *Engine) sync(ctx context.Context) error {
	return e.top.World.Barrier(ctx)
}

// Run executes the full swept cycle. The device is released on every exit
// path; a failed collective or phase is fatal to the run.
func (e *Engine) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	defer e.dev.Release()
	start := time.Now()

	f := e.floor()
	mpss := e.d.MPSS

	// Pads must hold wrapped initial data before the first phase reads them.
	if err := e.maintain(ctx, false, false); err != nil {
		return err
	}

	if err := e.phase(ctx, e.regs.RR, e.up, f, f+1); err != nil {
		return err
	}
	if err := e.maintain(ctx, false, false); err != nil {
		return err
	}
	if err := e.forwardBridges(ctx); err != nil {
		return err
	}

	for e.gst = 0; e.gst < e.d.MGST; e.gst++ {
		logger.Debug("Global swept step.", "gst", e.gst, "rank", e.top.World.Rank())

		// Shifted octahedron: the apex moves from the base lattice onto
		// the half-block diagonal lattice.
		if err := e.phase(ctx, e.regs.SRR, e.oct, f+1, f+mpss+1); err != nil {
			return err
		}
		if err := e.maintain(ctx, true, true); err != nil {
			return err
		}
		if err := e.recordAndShift(ctx, true); err != nil {
			return err
		}

		if err := e.reverseBridges(ctx); err != nil {
			return err
		}

		// Base octahedron: the apex returns to the base lattice. Nothing
		// spills, so nothing is folded.
		if err := e.phase(ctx, e.regs.RR, e.oct, f+1, f+mpss+1); err != nil {
			return err
		}
		if err := e.maintain(ctx, false, false); err != nil {
			return err
		}
		if err := e.recordAndShift(ctx, true); err != nil {
			return err
		}

		if err := e.forwardBridges(ctx); err != nil {
			return err
		}
	}

	// Closing half-cycle: one more shifted octahedron, then the down
	// pyramid collapses the structure back onto the base lattice.
	if err := e.phase(ctx, e.regs.SRR, e.oct, f+1, f+mpss+1); err != nil {
		return err
	}
	if err := e.maintain(ctx, true, true); err != nil {
		return err
	}
	if err := e.recordAndShift(ctx, true); err != nil {
		return err
	}
	if err := e.reverseBridges(ctx); err != nil {
		return err
	}
	if err := e.phase(ctx, e.regs.RR, e.down, f+1, f+mpss+1); err != nil {
		return err
	}
	if err := e.sync(ctx); err != nil {
		return err
	}
	if err := e.recordAndShift(ctx, false); err != nil {
		return err
	}

	return e.gatherElapsed(ctx, time.Since(start))
}

// phase reads the haloed window rr, launches the layer sequence on the
// device, and folds every computed layer rectangle back into the arena.
// Only the planes below uploadStop are staged from the arena: everything a
// phase reads above them it produces inside its own window, and limiting
// the stage keeps concurrent ranks' reads and writes on disjoint memory.
func (e *Engine) phase(ctx context.Context, rr region.Region, layers []indexset.Layer, ts, uploadStop int) error {
	win := tensor.New(e.d.TimeLen, e.run.Variables, rr.X.Len(), rr.Y.Len())
	staged, err := e.ar.Read(rr.WithTime(region.Span{Stop: uploadStop}))
	if err != nil {
		return fmt.Errorf("engine: phase stage read: %w", err)
	}
	stageDst := region.MustNew(
		region.Span{Stop: uploadStop},
		region.Span{Stop: e.run.Variables},
		region.Span{Stop: rr.X.Len()},
		region.Span{Stop: rr.Y.Len()},
	)
	if err := win.WriteRegion(stageDst, staged); err != nil {
		return fmt.Errorf("engine: phase stage: %w", err)
	}

	job := device.Job{
		Local: win, Layers: layers, TS: ts,
		BS: e.run.BlockSize, OPS: e.run.OPS, Kernel: e.k,
	}
	if err := e.dev.Launch(ctx, job); err != nil {
		return err
	}

	origins, err := device.Blocks(job)
	if err != nil {
		return err
	}
	for k, layer := range layers {
		r := layer.Bounds()
		plane := ts + k + 1
		for _, o := range origins {
			loc := region.MustNew(
				region.Span{Start: plane, Stop: plane + 1},
				region.Span{Stop: e.run.Variables},
				region.Span{Start: o.X + r.X0, Stop: o.X + r.X1},
				region.Span{Start: o.Y + r.Y0, Stop: o.Y + r.Y1},
			)
			out, err := win.ReadRegion(loc)
			if err != nil {
				return fmt.Errorf("engine: layer readback: %w", err)
			}
			if err := e.ar.Write(loc.ShiftSpatial(rr.X.Start, rr.Y.Start), out); err != nil {
				return fmt.Errorf("engine: layer fold: %w", err)
			}
		}
	}
	return nil
}

// forwardBridges resolves the strips between base-lattice blocks: the
// x bridge on the x-shifted window, then the y bridge on the y-shifted
// window. Each orientation is a separate barrier-delimited sub-phase
// followed by a fold of the one axis it spilled, so the fold never copies
// a stale pad image over the other orientation's fresh writes.
func (e *Engine) forwardBridges(ctx context.Context) error {
	f := e.floor()
	if err := e.phase(ctx, e.regs.XRR, e.xb, f+1, f+e.d.MPSS); err != nil {
		return err
	}
	if err := e.maintain(ctx, true, false); err != nil {
		return err
	}
	if err := e.phase(ctx, e.regs.YRR, e.yb, f+1, f+e.d.MPSS); err != nil {
		return err
	}
	return e.maintain(ctx, false, true)
}

// reverseBridges resolves the strips between shifted-lattice blocks. The
// lattice roles swap: the x-oriented layer sets run on the y-shifted
// window and vice versa, which lands the strips on the shifted lattice's
// block boundaries. The spill axis swaps with them.
func (e *Engine) reverseBridges(ctx context.Context) error {
	f := e.floor()
	if err := e.phase(ctx, e.regs.YRR, e.xb, f+1, f+e.d.MPSS); err != nil {
		return err
	}
	if err := e.maintain(ctx, false, true); err != nil {
		return err
	}
	if err := e.phase(ctx, e.regs.XRR, e.yb, f+1, f+e.d.MPSS); err != nil {
		return err
	}
	return e.maintain(ctx, true, false)
}

// maintain is the barrier-bracketed arena maintenance run by the node
// master: fold the spill of whichever axes the closing phase wrote past
// the interior's high edge, then refresh the halo pads. A fold is valid
// only while the interior's low edge is untouched since the last refresh,
// which holds exactly when the closing phase spilled that axis; phases on
// the base lattice write the low edge directly and must not fold.
func (e *Engine) maintain(ctx context.Context, foldX, foldY bool) error {
	if err := e.sync(ctx); err != nil {
		return err
	}
	if e.top.IsNodeMaster() {
		if foldX {
			if err := e.foldX(ctx); err != nil {
				return err
			}
		}
		if foldY {
			if err := e.ar.EdgeWritebackY(); err != nil {
				return err
			}
		}
		if err := e.boundaryX(ctx); err != nil {
			return err
		}
		if err := e.ar.BoundaryUpdateY(); err != nil {
			return err
		}
	}
	return e.sync(ctx)
}

// foldX returns the x spill to the owner of the domain's next slab. With a
// single node that owner is this arena's own low edge; across nodes the
// spill travels one seat forward on the cluster ring. The message spans
// the interior rows plus the y spill so the corner block arrives intact
// for the receiver's own y fold.
func (e *Engine) foldX(ctx context.Context) error {
	cl := e.top.Cluster
	if cl == nil || cl.Size() == 1 {
		return e.ar.EdgeWritebackX()
	}
	in := e.ar.Interior()
	ox, nx := in.X.Start, in.X.Len()
	ySpan := region.Span{Stop: in.Y.Stop + e.d.Split}

	spill := region.MustNew(in.T, in.V, region.Span{Start: ox + nx, Stop: ox + nx + e.d.Split}, ySpan)
	out, err := e.ar.Read(spill)
	if err != nil {
		return fmt.Errorf("engine: spill read: %w", err)
	}
	me, n := cl.Rank(), cl.Size()
	if err := cl.Send(ctx, (me+1)%n, out); err != nil {
		return err
	}
	got, err := cl.Recv(ctx, (me-1+n)%n)
	if err != nil {
		return err
	}
	dst := region.MustNew(in.T, in.V, region.Span{Start: ox, Stop: ox + e.d.Split}, ySpan)
	if err := e.ar.Write(dst, got.(*tensor.Tensor)); err != nil {
		return fmt.Errorf("engine: spill fold: %w", err)
	}
	return nil
}

// boundaryX refreshes the x pads. With a single node the domain wraps
// onto itself; across nodes each master trades edge columns with its ring
// neighbors: the high pad takes the next slab's leading columns, the low
// pad the previous slab's trailing columns. The messages cover interior
// rows only; the following y refresh extends them into the corners.
func (e *Engine) boundaryX(ctx context.Context) error {
	cl := e.top.Cluster
	if cl == nil || cl.Size() == 1 {
		return e.ar.BoundaryUpdateX()
	}
	in := e.ar.Interior()
	ox, nx := in.X.Start, in.X.Len()
	hi := e.d.Split + 2*e.run.OPS
	me, n := cl.Rank(), cl.Size()
	right, left := (me+1)%n, (me-1+n)%n

	leading, err := e.ar.Read(region.MustNew(in.T, in.V, region.Span{Start: ox, Stop: ox + hi}, in.Y))
	if err != nil {
		return err
	}
	trailing, err := e.ar.Read(region.MustNew(in.T, in.V, region.Span{Start: ox + nx - e.run.OPS, Stop: ox + nx}, in.Y))
	if err != nil {
		return err
	}
	if err := cl.Send(ctx, left, leading); err != nil {
		return err
	}
	if err := cl.Send(ctx, right, trailing); err != nil {
		return err
	}
	fromRight, err := cl.Recv(ctx, right)
	if err != nil {
		return err
	}
	highPad := region.MustNew(in.T, in.V, region.Span{Start: ox + nx, Stop: ox + nx + hi}, in.Y)
	if err := e.ar.Write(highPad, fromRight.(*tensor.Tensor)); err != nil {
		return err
	}
	fromLeft, err := cl.Recv(ctx, left)
	if err != nil {
		return err
	}
	lowPad := region.MustNew(in.T, in.V, region.Span{Start: ox - e.run.OPS, Stop: ox}, in.Y)
	return e.ar.Write(lowPad, fromLeft.(*tensor.Tensor))
}

// recordAndShift flushes the completed slices to the sink and recycles the
// arena's time window. Every rank writes its own region; the master alone
// shifts, inside a barrier pair.
func (e *Engine) recordAndShift(ctx context.Context, shift bool) error {
	f := e.floor()
	slice, err := e.ar.Read(e.regs.WR.WithTime(region.Span{Start: f, Stop: f + e.d.MPSS}))
	if err != nil {
		return fmt.Errorf("engine: checkpoint read: %w", err)
	}
	rowStart := e.d.MPSS * (e.cwt - 1)
	if err := e.snk.Write(rowStart, rowStart+e.d.MPSS, e.regs.WR, slice); err != nil {
		return err
	}
	e.cwt++
	if err := e.sync(ctx); err != nil {
		return err
	}
	if shift && e.top.IsNodeMaster() {
		if err := e.ar.ShiftTime(e.d.MPSS); err != nil {
			return err
		}
	}
	return e.sync(ctx)
}

// gatherElapsed averages the per-rank wall time at world rank 0 and
// records it in the sink header.
func (e *Engine) gatherElapsed(ctx context.Context, elapsed time.Duration) error {
	times, err := e.top.World.Gather(ctx, 0, elapsed.Seconds())
	if err != nil {
		return fmt.Errorf("engine: elapsed gather: %w", err)
	}
	if e.top.World.Rank() == 0 {
		var sum float64
		for _, v := range times {
			sum += v.(float64)
		}
		mean := sum / float64(len(times))
		e.snk.SetElapsed(mean)
		ctxlog.FromContext(ctx).Info("Run complete.", "meanElapsedSeconds", mean, "ranks", len(times))
	}
	return nil
}
