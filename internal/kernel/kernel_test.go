package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walkanth/sweptgo/internal/indexset"
	"github.com/walkanth/sweptgo/internal/tensor"
)

const (
	bs  = 8
	ops = 1
)

// block returns a (2, 1, bs+2*ops, bs+2*ops) tensor with plane 0 filled by
// f(x, y) = 10*x + y over the full footprint including ghosts.
func block(t *testing.T) *tensor.Tensor {
	t.Helper()
	b := tensor.New(2, 1, bs+2*ops, bs+2*ops)
	sh := b.Shape()
	for x := 0; x < sh[2]; x++ {
		for y := 0; y < sh[3]; y++ {
			b.Set(0, 0, x, y, float64(10*x+y))
		}
	}
	return b
}

func TestNewUnknownKernel(t *testing.T) {
	_, err := New("no-such-scheme")
	require.Error(t, err)
}

func TestNamesIncludeBuiltins(t *testing.T) {
	assert.Contains(t, Names(), "identity")
	assert.Contains(t, Names(), "heat")
	assert.Contains(t, Names(), "wave")
}

func TestBuiltinOrders(t *testing.T) {
	for name, order := range map[string]int{"identity": 1, "heat": 1, "wave": 2} {
		k, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, order, k.Order(), name)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("identity", func() Kernel { return &identity{} })
	})
}

func TestIdentityTouchesOnlyLayerPoints(t *testing.T) {
	k, err := New("identity")
	require.NoError(t, err)
	require.NoError(t, k.SetGlobals(false, nil))

	b := block(t)
	layer := indexset.Layer{{X: 2, Y: 3}, {X: 4, Y: 5}}
	require.NoError(t, k.Step(b, layer, 0))

	assert.Equal(t, b.At(0, 0, 2, 3), b.At(1, 0, 2, 3))
	assert.Equal(t, b.At(0, 0, 4, 5), b.At(1, 0, 4, 5))

	// Every other point of plane 1 is untouched.
	sh := b.Shape()
	touched := map[[2]int]bool{{2, 3}: true, {4, 5}: true}
	for x := 0; x < sh[2]; x++ {
		for y := 0; y < sh[3]; y++ {
			if !touched[[2]int{x, y}] {
				require.Zero(t, b.At(1, 0, x, y), "(%d, %d)", x, y)
			}
		}
	}
}

func TestHeatLeavesUniformFieldUnchanged(t *testing.T) {
	k, err := New("heat")
	require.NoError(t, err)
	require.NoError(t, k.SetGlobals(false, []float64{1, 0.01, 0.1, 0.1}))

	b := tensor.New(2, 1, bs+2*ops, bs+2*ops)
	sh := b.Shape()
	for x := 0; x < sh[2]; x++ {
		for y := 0; y < sh[3]; y++ {
			b.Set(0, 0, x, y, 5)
		}
	}
	layers, err := indexset.Up(bs, bs, ops)
	require.NoError(t, err)
	layer := layers[0]
	require.NoError(t, k.Step(b, layer, 0))
	for _, p := range layer {
		assert.Equal(t, 5.0, b.At(1, 0, p.X, p.Y), "(%d, %d)", p.X, p.Y)
	}
}

func TestHeatDiffusesPeak(t *testing.T) {
	k, err := New("heat")
	require.NoError(t, err)
	alpha, dt, dx := 1.0, 0.01, 0.1
	require.NoError(t, k.SetGlobals(false, []float64{alpha, dt, dx, dx}))

	b := tensor.New(2, 1, bs+2*ops, bs+2*ops)
	cx, cy := ops+bs/2, ops+bs/2
	b.Set(0, 0, cx, cy, 1)

	layers, err := indexset.Up(bs, bs, ops)
	require.NoError(t, err)
	layer := layers[0]
	require.NoError(t, k.Step(b, layer, 0))

	coef := alpha * dt / (dx * dx)
	assert.InDelta(t, 1-4*coef, b.At(1, 0, cx, cy), 1e-12, "peak loses heat")
	assert.InDelta(t, coef, b.At(1, 0, cx+1, cy), 1e-12, "neighbor gains heat")
	assert.InDelta(t, coef, b.At(1, 0, cx, cy-1), 1e-12)
}

func TestWaveRestStartStaysAtRest(t *testing.T) {
	k, err := New("wave")
	require.NoError(t, err)
	require.NoError(t, k.SetGlobals(false, []float64{1, 0.1, 1, 1}))

	// A uniform field at rest has no curvature and no velocity, so the
	// leapfrog step reproduces it exactly.
	b := tensor.New(3, 1, bs+2*ops, bs+2*ops)
	sh := b.Shape()
	for x := 0; x < sh[2]; x++ {
		for y := 0; y < sh[3]; y++ {
			b.Set(0, 0, x, y, 5)
			b.Set(1, 0, x, y, 5)
		}
	}
	layers, err := indexset.Up(bs, bs, ops)
	require.NoError(t, err)
	layer := layers[0]
	require.NoError(t, k.Step(b, layer, 1))
	for _, p := range layer {
		assert.Equal(t, 5.0, b.At(2, 0, p.X, p.Y), "(%d, %d)", p.X, p.Y)
	}
}

func TestWavePeakPullsNeighbors(t *testing.T) {
	k, err := New("wave")
	require.NoError(t, err)
	c, dt, dx := 1.0, 0.1, 1.0
	require.NoError(t, k.SetGlobals(false, []float64{c, dt, dx, dx}))

	b := tensor.New(3, 1, bs+2*ops, bs+2*ops)
	cx, cy := ops+bs/2, ops+bs/2
	b.Set(0, 0, cx, cy, 1)
	b.Set(1, 0, cx, cy, 1)

	layers, err := indexset.Up(bs, bs, ops)
	require.NoError(t, err)
	layer := layers[0]
	require.NoError(t, k.Step(b, layer, 1))

	coef := (c * dt / dx) * (c * dt / dx)
	assert.InDelta(t, 1-4*coef, b.At(2, 0, cx, cy), 1e-12, "peak loses amplitude")
	assert.InDelta(t, coef, b.At(2, 0, cx+1, cy), 1e-12, "neighbor lifts")
	assert.InDelta(t, coef, b.At(2, 0, cx, cy-1), 1e-12)
}

func TestWaveRejectsBadGlobals(t *testing.T) {
	k, err := New("wave")
	require.NoError(t, err)
	require.Error(t, k.SetGlobals(false, []float64{1, 0.1}))
	require.Error(t, k.SetGlobals(false, []float64{1, 0.1, -1, 1}))
}

func TestHeatRejectsBadGlobals(t *testing.T) {
	k, err := New("heat")
	require.NoError(t, err)
	require.Error(t, k.SetGlobals(false, []float64{1, 0.01}))
	require.Error(t, k.SetGlobals(false, []float64{1, 0.01, 0, 0.1}))
}
