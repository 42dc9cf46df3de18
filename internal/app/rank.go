package app

import (
	"context"
	"slices"

	"github.com/walkanth/sweptgo/internal/arena"
	"github.com/walkanth/sweptgo/internal/comm"
	"github.com/walkanth/sweptgo/internal/ctxlog"
	"github.com/walkanth/sweptgo/internal/decomp"
	"github.com/walkanth/sweptgo/internal/device"
	"github.com/walkanth/sweptgo/internal/engine"
	"github.com/walkanth/sweptgo/internal/kernel"
	"github.com/walkanth/sweptgo/internal/region"
	"github.com/walkanth/sweptgo/internal/tensor"
	"github.com/walkanth/sweptgo/internal/topology"
)

// rankMain is the body every spawned rank runs: build the topology, claim
// a region and a device, share the node arena, and hand off to the engine.
func (a *App) rankMain(init *tensor.Tensor) func(ctx context.Context, world comm.Communicator) error {
	return func(ctx context.Context, world comm.Communicator) error {
		logger := ctxlog.FromContext(ctx).With("rank", world.Rank())

		info := topology.ProcessInfo{
			Rank: world.Rank(),
			Host: a.opts.Hosts[world.Rank()],
			GPUs: a.opts.GPUs,
		}
		top, err := topology.Build(ctx, world, info, a.run.Affinity, a.run.ExcludeGPUs)
		if err != nil {
			return err
		}

		p := decomp.Params{
			NX: a.run.NX, NY: a.run.NY, BS: a.run.BlockSize, OPS: a.run.OPS,
			Split: a.d.Split, V: a.run.Variables, TimeLen: a.d.TimeLen,
		}
		slab, err := decomp.NodeSlab(top.NodeID, top.NodeCount, a.run.NX, a.run.BlockSize)
		if err != nil {
			return err
		}
		gpuXS, cpuXS := decomp.AffinitySplit(a.run.Affinity, a.run.BlockSize, slab)

		// Rows are shared among this node's ranks of one architecture; the
		// slab and the affinity cut already settled the x axis, so the
		// per-rank regions of all nodes tile the domain exactly.
		var wr region.Region
		if top.OnGPU() {
			peers := top.NodeGPURanks()
			wr, err = decomp.WriteRegion(slices.Index(peers, world.Rank()), len(peers), gpuXS, p)
		} else {
			peers := top.NodeCPURanks()
			wr, err = decomp.WriteRegion(slices.Index(peers, world.Rank()), len(peers), cpuXS, p)
		}
		if err != nil {
			return err
		}

		// Ranks the decomposition left without rows bow out before any
		// collective work begins. Node slabs are unaffected: every node
		// keeps at least one working rank.
		top, err = top.Prune(ctx, !wr.Empty())
		if err != nil {
			return err
		}
		if top == nil {
			logger.Debug("Rank pruned: no rows to advance.")
			return nil
		}

		var ar *arena.Arena
		if top.IsNodeMaster() {
			ar, err = arena.New(a.d.TimeLen, a.run.Variables, slab.Len(), a.run.NY, a.run.OPS, a.d.Split, slab.Start)
			if err != nil {
				return err
			}
			sub, err := init.ReadRegion(region.MustNew(
				region.Span{Stop: 1},
				region.Span{Stop: a.run.Variables},
				slab,
				region.Span{Stop: a.run.NY},
			))
			if err != nil {
				return err
			}
			if err := ar.LoadInitial(sub, a.run.TSO-1); err != nil {
				return err
			}
		}
		shared, err := top.Node.Bcast(ctx, 0, ar)
		if err != nil {
			return err
		}
		ar = shared.(*arena.Arena)

		var dev device.Context
		if top.OnGPU() {
			dev, err = device.NewGPU(ctx, top.Device)
			logger.Debug("Rank bound to GPU.", "device", top.Device)
		} else {
			workers := a.opts.Workers
			if workers <= 0 {
				workers = device.PoolSize(len(top.NodeRanks))
			}
			dev, err = device.NewCPU(ctx, workers)
			logger.Debug("Rank bound to CPU pool.", "workers", workers)
		}
		if err != nil {
			return err
		}

		k, err := kernel.New(a.run.Kernel)
		if err != nil {
			dev.Release()
			return err
		}
		if err := k.SetGlobals(top.OnGPU(), a.run.KernelArgs); err != nil {
			dev.Release()
			return err
		}

		eng, err := engine.New(engine.Params{
			Run: a.run, Derived: a.d, Top: top, Regs: decomp.Build(wr, p),
			Arena: ar, Device: dev, Kernel: k, Sink: a.snk,
		})
		if err != nil {
			dev.Release()
			return err
		}
		return eng.Run(ctx)
	}
}
