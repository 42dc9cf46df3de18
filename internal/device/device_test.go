package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walkanth/sweptgo/internal/indexset"
	"github.com/walkanth/sweptgo/internal/kernel"
	"github.com/walkanth/sweptgo/internal/tensor"
)

const (
	bs  = 8
	ops = 1
)

// window builds a haloed 2x2-block phase window with plane 0 filled by
// f(x, y) = 100*x + y.
func window(t *testing.T) *tensor.Tensor {
	t.Helper()
	side := 2*bs + 2*ops
	w := tensor.New(6, 1, side, side)
	for x := 0; x < side; x++ {
		for y := 0; y < side; y++ {
			w.Set(0, 0, x, y, float64(100*x+y))
		}
	}
	return w
}

func identityJob(t *testing.T, local *tensor.Tensor) Job {
	t.Helper()
	k, err := kernel.New("identity")
	require.NoError(t, err)
	require.NoError(t, k.SetGlobals(false, nil))
	layers, err := indexset.Up(bs, bs, ops)
	require.NoError(t, err)
	return Job{Local: local, Layers: layers, TS: 0, BS: bs, OPS: ops, Kernel: k}
}

func TestCPURunsPyramidLayers(t *testing.T) {
	cpu, err := NewCPU(context.Background(), 3)
	require.NoError(t, err)
	defer cpu.Release()

	local := window(t)
	job := identityJob(t, local)
	require.NoError(t, cpu.Launch(context.Background(), job))

	// Each block's apex core carried the value all the way up.
	mpss := indexset.Steps(bs, bs, ops)
	for _, p := range job.Layers[mpss-1][:1] {
		assert.Equal(t, local.At(0, 0, p.X, p.Y), local.At(mpss, 0, p.X, p.Y))
	}
	// Points outside layer 1 stay zero at plane 2.
	assert.Zero(t, local.At(2, 0, ops, ops), "block corner is not in layer 1")
	// Ghost border of plane 1 is never written.
	assert.Zero(t, local.At(1, 0, 0, 0))
}

func TestCPUAndGPUAgree(t *testing.T) {
	ctx := context.Background()

	cpuLocal := window(t)
	cpu, err := NewCPU(ctx, 4)
	require.NoError(t, err)
	defer cpu.Release()
	require.NoError(t, cpu.Launch(ctx, identityJob(t, cpuLocal)))

	gpuLocal := window(t)
	gpu, err := NewGPU(ctx, 0)
	require.NoError(t, err)
	defer gpu.Release()
	require.NoError(t, gpu.Launch(ctx, identityJob(t, gpuLocal)))

	assert.True(t, cpuLocal.Equal(gpuLocal), "architectures must produce identical planes")
}

func TestLaunchAfterReleaseFails(t *testing.T) {
	ctx := context.Background()

	cpu, err := NewCPU(ctx, 1)
	require.NoError(t, err)
	cpu.Release()
	cpu.Release() // idempotent
	require.Error(t, cpu.Launch(ctx, identityJob(t, window(t))))

	gpu, err := NewGPU(ctx, 1)
	require.NoError(t, err)
	gpu.Release()
	gpu.Release()
	require.Error(t, gpu.Launch(ctx, identityJob(t, window(t))))
}

func TestGPUIDExclusive(t *testing.T) {
	ctx := context.Background()
	a, err := NewGPU(ctx, 2)
	require.NoError(t, err)
	defer a.Release()

	_, err = NewGPU(ctx, 2)
	require.Error(t, err)

	a.Release()
	b, err := NewGPU(ctx, 2)
	require.NoError(t, err)
	b.Release()
}

func TestRejectsMisalignedWindow(t *testing.T) {
	ctx := context.Background()
	cpu, err := NewCPU(ctx, 1)
	require.NoError(t, err)
	defer cpu.Release()

	job := identityJob(t, tensor.New(6, 1, bs+2*ops+3, bs+2*ops))
	require.Error(t, cpu.Launch(ctx, job))
}

func TestPoolSizeFloor(t *testing.T) {
	assert.GreaterOrEqual(t, PoolSize(1<<20), 1)
	assert.GreaterOrEqual(t, PoolSize(1), 1)
}
