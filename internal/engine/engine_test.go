package engine

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkanth/sweptgo/internal/arena"
	"github.com/walkanth/sweptgo/internal/comm"
	"github.com/walkanth/sweptgo/internal/config"
	"github.com/walkanth/sweptgo/internal/decomp"
	"github.com/walkanth/sweptgo/internal/device"
	"github.com/walkanth/sweptgo/internal/kernel"
	"github.com/walkanth/sweptgo/internal/region"
	"github.com/walkanth/sweptgo/internal/sink"
	"github.com/walkanth/sweptgo/internal/tensor"
	"github.com/walkanth/sweptgo/internal/topology"
)

func baseRun(affinity float64) *config.Run {
	return &config.Run{
		Variables: 1,
		NX:        16, NY: 16,
		T0: 0, TF: 1.0, DT: 0.1,
		TSO: 1, OPS: 1, BlockSize: 8,
		Affinity: affinity,
		Kernel:   "identity",
	}
}

func initialField(cfg *config.Run, f func(x, y int) float64) *tensor.Tensor {
	src := tensor.New(1, cfg.Variables, cfg.NX, cfg.NY)
	for v := 0; v < cfg.Variables; v++ {
		for x := 0; x < cfg.NX; x++ {
			for y := 0; y < cfg.NY; y++ {
				src.Set(0, v, x, y, f(x, y))
			}
		}
	}
	return src
}

// runSwept wires the full per-rank stack by hand, the way the application
// does, and returns the memory sink after every rank finished.
func runSwept(t *testing.T, ranks int, cfg *config.Run, gpus []int, init *tensor.Tensor) *sink.Memory {
	t.Helper()
	d, err := cfg.Derive()
	require.NoError(t, err)

	ms := sink.NewMemory(sink.Meta{
		OutputSteps: d.OutputSteps, NV: cfg.Variables,
		NX: cfg.NX, NY: cfg.NY, BS: cfg.BlockSize,
		Affinity: cfg.Affinity, T0: cfg.T0, DT: cfg.DT,
	})

	err = comm.Spawn(context.Background(), ranks, func(ctx context.Context, world comm.Communicator) error {
		info := topology.ProcessInfo{Rank: world.Rank(), Host: "node0", GPUs: gpus}
		top, err := topology.Build(ctx, world, info, cfg.Affinity, cfg.ExcludeGPUs)
		if err != nil {
			return err
		}
		p := decomp.Params{
			NX: cfg.NX, NY: cfg.NY, BS: cfg.BlockSize, OPS: cfg.OPS,
			Split: d.Split, V: cfg.Variables, TimeLen: d.TimeLen,
		}
		slab, err := decomp.NodeSlab(top.NodeID, top.NodeCount, cfg.NX, cfg.BlockSize)
		if err != nil {
			return err
		}
		gpuXS, cpuXS := decomp.AffinitySplit(cfg.Affinity, cfg.BlockSize, slab)
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

		var ar *arena.Arena
		if top.IsNodeMaster() {
			ar, err = arena.New(d.TimeLen, cfg.Variables, slab.Len(), cfg.NY, cfg.OPS, d.Split, slab.Start)
			if err != nil {
				return err
			}
			sub, err := init.ReadRegion(region.MustNew(
				region.Span{Stop: 1},
				region.Span{Stop: cfg.Variables},
				slab,
				region.Span{Stop: cfg.NY},
			))
			if err != nil {
				return err
			}
			if err := ar.LoadInitial(sub, cfg.TSO-1); err != nil {
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
		} else {
			dev, err = device.NewCPU(ctx, 2)
		}
		if err != nil {
			return err
		}

		k, err := kernel.New(cfg.Kernel)
		if err != nil {
			return err
		}
		if cfg.KernelArgs != nil {
			if err := k.SetGlobals(top.OnGPU(), cfg.KernelArgs); err != nil {
				return err
			}
		}

		eng, err := New(Params{
			Run: cfg, Derived: d, Top: top, Regs: decomp.Build(wr, p),
			Arena: ar, Device: dev, Kernel: k, Sink: ms,
		})
		if err != nil {
			return err
		}
		return eng.Run(ctx)
	})
	require.NoError(t, err)
	return ms
}

func requireRowsEqual(t *testing.T, got *tensor.Tensor, rows int, cfg *config.Run, want func(r, x, y int) float64) {
	t.Helper()
	for r := 0; r < rows; r++ {
		for x := 0; x < cfg.NX; x++ {
			for y := 0; y < cfg.NY; y++ {
				w := want(r, x, y)
				g := got.At(r, 0, x, y)
				if math.Abs(g-w) > 1e-9 {
					t.Fatalf("row %d point (%d, %d): got %g want %g", r, x, y, g, w)
				}
			}
		}
	}
}

func TestIdentityRunPreservesField(t *testing.T) {
	cfg := baseRun(0)
	init := initialField(cfg, func(x, y int) float64 { return 100*float64(x) + float64(y) })
	ms := runSwept(t, 2, cfg, nil, init)

	d, err := cfg.Derive()
	require.NoError(t, err)
	requireRowsEqual(t, ms.Result(), d.OutputSteps, cfg, func(_, x, y int) float64 {
		return 100*float64(x) + float64(y)
	})
	require.Greater(t, ms.Meta().Elapsed, 0.0)
}

func TestIdentityRunMixedDevices(t *testing.T) {
	cfg := baseRun(0.5)
	init := initialField(cfg, func(x, y int) float64 { return float64(x*y) + 3 })
	ms := runSwept(t, 2, cfg, []int{0}, init)

	d, err := cfg.Derive()
	require.NoError(t, err)
	requireRowsEqual(t, ms.Result(), d.OutputSteps, cfg, func(_, x, y int) float64 {
		return float64(x*y) + 3
	})
}

func TestIdentityRunSingleGPU(t *testing.T) {
	cfg := baseRun(1)
	init := initialField(cfg, func(x, y int) float64 { return float64(x - y) })
	ms := runSwept(t, 1, cfg, []int{0}, init)

	d, err := cfg.Derive()
	require.NoError(t, err)
	requireRowsEqual(t, ms.Result(), d.OutputSteps, cfg, func(_, x, y int) float64 {
		return float64(x - y)
	})
}

// heatReference advances the five-point scheme directly with periodic
// boundaries, mirroring the kernel's arithmetic term for term.
func heatReference(cfg *config.Run, init *tensor.Tensor, cx, cy float64, rows int) []*tensor.Tensor {
	nx, ny := cfg.NX, cfg.NY
	out := make([]*tensor.Tensor, rows)
	cur := init.Clone()
	out[0] = cur
	for r := 1; r < rows; r++ {
		next := tensor.New(1, 1, nx, ny)
		for x := 0; x < nx; x++ {
			for y := 0; y < ny; y++ {
				c := cur.At(0, 0, x, y)
				d2x := cur.At(0, 0, (x+1)%nx, y) - 2*c + cur.At(0, 0, (x+nx-1)%nx, y)
				d2y := cur.At(0, 0, x, (y+1)%ny) - 2*c + cur.At(0, 0, x, (y+ny-1)%ny)
				next.Set(0, 0, x, y, c+cx*d2x+cy*d2y)
			}
		}
		out[r] = next
		cur = next
	}
	return out
}

func TestHeatRunMatchesDirectStepping(t *testing.T) {
	cfg := baseRun(0)
	cfg.Kernel = "heat"
	cfg.KernelArgs = []float64{0.2, 1, 1, 1}
	init := initialField(cfg, func(x, y int) float64 {
		dx, dy := float64(x-8), float64(y-8)
		return math.Exp(-(dx*dx + dy*dy) / 10)
	})
	ms := runSwept(t, 1, cfg, nil, init)

	d, err := cfg.Derive()
	require.NoError(t, err)
	want := heatReference(cfg, init, 0.2, 0.2, d.OutputSteps)
	requireRowsEqual(t, ms.Result(), d.OutputSteps, cfg, func(r, x, y int) float64 {
		return want[r].At(0, 0, x, y)
	})
}

// waveReference advances the leapfrog scheme directly with periodic
// boundaries and a rest start, mirroring the kernel's arithmetic term for
// term.
func waveReference(cfg *config.Run, init *tensor.Tensor, cx, cy float64, rows int) []*tensor.Tensor {
	nx, ny := cfg.NX, cfg.NY
	out := make([]*tensor.Tensor, rows)
	prev := init.Clone()
	cur := init.Clone()
	out[0] = cur
	for r := 1; r < rows; r++ {
		next := tensor.New(1, 1, nx, ny)
		for x := 0; x < nx; x++ {
			for y := 0; y < ny; y++ {
				c := cur.At(0, 0, x, y)
				p := prev.At(0, 0, x, y)
				d2x := cur.At(0, 0, (x+1)%nx, y) - 2*c + cur.At(0, 0, (x+nx-1)%nx, y)
				d2y := cur.At(0, 0, x, (y+1)%ny) - 2*c + cur.At(0, 0, x, (y+ny-1)%ny)
				next.Set(0, 0, x, y, 2*c-p+cx*d2x+cy*d2y)
			}
		}
		out[r] = next
		prev, cur = cur, next
	}
	return out
}

func TestWaveRunMatchesDirectStepping(t *testing.T) {
	cfg := baseRun(0)
	cfg.TSO = 2
	cfg.Kernel = "wave"
	cfg.KernelArgs = []float64{1, 0.1, 1, 1}
	init := initialField(cfg, func(x, y int) float64 {
		dx, dy := float64(x-8), float64(y-8)
		return math.Exp(-(dx*dx + dy*dy) / 8)
	})
	ms := runSwept(t, 1, cfg, nil, init)

	d, err := cfg.Derive()
	require.NoError(t, err)
	coef := 0.1 * 0.1
	want := waveReference(cfg, init, coef, coef, d.OutputSteps)
	requireRowsEqual(t, ms.Result(), d.OutputSteps, cfg, func(r, x, y int) float64 {
		return want[r].At(0, 0, x, y)
	})
}

func TestWaveRunAgreesAcrossRankCounts(t *testing.T) {
	mk := func(ranks int) *tensor.Tensor {
		cfg := baseRun(0)
		cfg.TSO = 2
		cfg.Kernel = "wave"
		cfg.KernelArgs = []float64{1, 0.1, 1, 1}
		init := initialField(cfg, func(x, y int) float64 { return math.Sin(float64(x)) * math.Cos(float64(y)) })
		return runSwept(t, ranks, cfg, nil, init).Result()
	}
	one, two := mk(1), mk(2)
	require.True(t, one.Equal(two), "rank decomposition changed the result")
}

func TestHeatRunAgreesAcrossRankCounts(t *testing.T) {
	mk := func(ranks int) *tensor.Tensor {
		cfg := baseRun(0)
		cfg.Kernel = "heat"
		cfg.KernelArgs = []float64{0.1, 1, 1, 1}
		init := initialField(cfg, func(x, y int) float64 { return math.Sin(float64(x)) * math.Cos(float64(y)) })
		return runSwept(t, ranks, cfg, nil, init).Result()
	}
	one, two := mk(1), mk(2)
	require.True(t, one.Equal(two), "rank decomposition changed the result")
}
