package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walkanth/sweptgo/internal/region"
)

func sequential(t, v, x, y int) *Tensor {
	a := New(t, v, x, y)
	for i := range a.Data() {
		a.Data()[i] = float64(i)
	}
	return a
}

func TestReadWriteRoundTrip(t *testing.T) {
	a := sequential(3, 2, 8, 8)
	r := region.MustNew(
		region.Span{Start: 1, Stop: 3},
		region.Span{Start: 0, Stop: 2},
		region.Span{Start: 2, Stop: 6},
		region.Span{Start: 3, Stop: 7},
	)

	win, err := a.ReadRegion(r)
	require.NoError(t, err)
	assert.Equal(t, [4]int{2, 2, 4, 4}, win.Shape())
	assert.Equal(t, a.At(1, 0, 2, 3), win.At(0, 0, 0, 0))
	assert.Equal(t, a.At(2, 1, 5, 6), win.At(1, 1, 3, 3))

	// Mutating the copy must not touch the source.
	before := a.At(1, 0, 2, 3)
	win.Set(0, 0, 0, 0, -1)
	assert.Equal(t, before, a.At(1, 0, 2, 3))

	// Writing it back restores the source exactly.
	win.Set(0, 0, 0, 0, before)
	b := a.Clone()
	require.NoError(t, b.WriteRegion(r, win))
	assert.True(t, a.Equal(b))
}

func TestOutOfBoundsRejected(t *testing.T) {
	a := New(2, 1, 4, 4)
	bad := region.MustNew(
		region.Span{Start: 0, Stop: 2},
		region.Span{Start: 0, Stop: 1},
		region.Span{Start: 2, Stop: 6},
		region.Span{Start: 0, Stop: 4},
	)
	_, err := a.ReadRegion(bad)
	require.Error(t, err)
	err = a.WriteRegion(bad, New(2, 1, 4, 4))
	require.Error(t, err)
}

func TestWriteShapeMismatch(t *testing.T) {
	a := New(2, 1, 4, 4)
	r := region.MustNew(
		region.Span{Start: 0, Stop: 1},
		region.Span{Start: 0, Stop: 1},
		region.Span{Start: 0, Stop: 2},
		region.Span{Start: 0, Stop: 2},
	)
	err := a.WriteRegion(r, New(1, 1, 3, 2))
	require.Error(t, err)
}

func TestCopyWindow(t *testing.T) {
	src := sequential(1, 1, 6, 6)
	dst := New(1, 1, 6, 6)

	from := region.MustNew(
		region.Span{Start: 0, Stop: 1},
		region.Span{Start: 0, Stop: 1},
		region.Span{Start: 4, Stop: 6},
		region.Span{Start: 0, Stop: 6},
	)
	to := region.MustNew(
		region.Span{Start: 0, Stop: 1},
		region.Span{Start: 0, Stop: 1},
		region.Span{Start: 0, Stop: 2},
		region.Span{Start: 0, Stop: 6},
	)
	require.NoError(t, dst.CopyWindow(to, src, from))
	for x := 0; x < 2; x++ {
		for y := 0; y < 6; y++ {
			assert.Equal(t, src.At(0, 0, x+4, y), dst.At(0, 0, x, y))
		}
	}
}
