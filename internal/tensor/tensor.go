// Package tensor provides the dense 4D (time, variable, x, y) array type
// shared by the arena, the engine and the sinks. Data is a single flat
// float64 slice in row-major order; windows are addressed through
// region.Region values. Reads copy out and writes copy in: a Tensor
// returned by ReadRegion never aliases its source.
package tensor

import (
	"fmt"

	"github.com/walkanth/sweptgo/internal/region"
)

// Tensor is a dense 4D array over (t, v, x, y).
type Tensor struct {
	shape   [4]int
	strides [4]int
	data    []float64
}

// New allocates a zeroed tensor of the given shape.
func New(t, v, x, y int) *Tensor {
	if t < 0 || v < 0 || x < 0 || y < 0 {
		panic(fmt.Sprintf("tensor: negative shape (%d, %d, %d, %d)", t, v, x, y))
	}
	shape := [4]int{t, v, x, y}
	return &Tensor{
		shape:   shape,
		strides: [4]int{v * x * y, x * y, y, 1},
		data:    make([]float64, t*v*x*y),
	}
}

// Shape returns the per-axis lengths in (t, v, x, y) order.
func (a *Tensor) Shape() [4]int { return a.shape }

// Data exposes the backing slice. Callers hold it read-only unless they own
// exclusive access to the whole tensor.
func (a *Tensor) Data() []float64 { return a.data }

// At returns the value at (t, v, x, y).
func (a *Tensor) At(t, v, x, y int) float64 {
	return a.data[t*a.strides[0]+v*a.strides[1]+x*a.strides[2]+y]
}

// Set stores val at (t, v, x, y).
func (a *Tensor) Set(t, v, x, y int, val float64) {
	a.data[t*a.strides[0]+v*a.strides[1]+x*a.strides[2]+y] = val
}

// Fill sets every element to val.
func (a *Tensor) Fill(val float64) {
	for i := range a.data {
		a.data[i] = val
	}
}

func (a *Tensor) contains(r region.Region) bool {
	return r.T.Start >= 0 && r.T.Stop <= a.shape[0] &&
		r.V.Start >= 0 && r.V.Stop <= a.shape[1] &&
		r.X.Start >= 0 && r.X.Stop <= a.shape[2] &&
		r.Y.Start >= 0 && r.Y.Stop <= a.shape[3]
}

// ReadRegion copies the window r out into a fresh tensor whose shape is
// r.Shape().
func (a *Tensor) ReadRegion(r region.Region) (*Tensor, error) {
	if !a.contains(r) {
		return nil, fmt.Errorf("tensor: read region %v out of bounds for shape %v", r, a.shape)
	}
	sh := r.Shape()
	out := New(sh[0], sh[1], sh[2], sh[3])
	for t := 0; t < sh[0]; t++ {
		for v := 0; v < sh[1]; v++ {
			for x := 0; x < sh[2]; x++ {
				srcOff := (t+r.T.Start)*a.strides[0] + (v+r.V.Start)*a.strides[1] + (x+r.X.Start)*a.strides[2] + r.Y.Start
				dstOff := t*out.strides[0] + v*out.strides[1] + x*out.strides[2]
				copy(out.data[dstOff:dstOff+sh[3]], a.data[srcOff:srcOff+sh[3]])
			}
		}
	}
	return out, nil
}

// WriteRegion copies src into the window r. The shape of src must match
// r.Shape() exactly. The caller must hold exclusive or barrier-separated
// access to r; the tensor performs no locking.
func (a *Tensor) WriteRegion(r region.Region, src *Tensor) error {
	if !a.contains(r) {
		return fmt.Errorf("tensor: write region %v out of bounds for shape %v", r, a.shape)
	}
	if src.shape != r.Shape() {
		return fmt.Errorf("tensor: write shape %v does not match region %v", src.shape, r)
	}
	sh := src.shape
	for t := 0; t < sh[0]; t++ {
		for v := 0; v < sh[1]; v++ {
			for x := 0; x < sh[2]; x++ {
				srcOff := t*src.strides[0] + v*src.strides[1] + x*src.strides[2]
				dstOff := (t+r.T.Start)*a.strides[0] + (v+r.V.Start)*a.strides[1] + (x+r.X.Start)*a.strides[2] + r.Y.Start
				copy(a.data[dstOff:dstOff+sh[3]], src.data[srcOff:srcOff+sh[3]])
			}
		}
	}
	return nil
}

// CopyWindow copies the window src of tensor b onto the window dst of a.
// The two windows must have identical shapes. It is the region-to-region
// transfer used by the boundary exchange and the node-to-node slabs.
func (a *Tensor) CopyWindow(dst region.Region, b *Tensor, src region.Region) error {
	if dst.Shape() != src.Shape() {
		return fmt.Errorf("tensor: window shapes differ: %v vs %v", dst.Shape(), src.Shape())
	}
	if !a.contains(dst) {
		return fmt.Errorf("tensor: destination window %v out of bounds for shape %v", dst, a.shape)
	}
	if !b.contains(src) {
		return fmt.Errorf("tensor: source window %v out of bounds for shape %v", src, b.shape)
	}
	sh := dst.Shape()
	for t := 0; t < sh[0]; t++ {
		for v := 0; v < sh[1]; v++ {
			for x := 0; x < sh[2]; x++ {
				srcOff := (t+src.T.Start)*b.strides[0] + (v+src.V.Start)*b.strides[1] + (x+src.X.Start)*b.strides[2] + src.Y.Start
				dstOff := (t+dst.T.Start)*a.strides[0] + (v+dst.V.Start)*a.strides[1] + (x+dst.X.Start)*a.strides[2] + dst.Y.Start
				copy(a.data[dstOff:dstOff+sh[3]], b.data[srcOff:srcOff+sh[3]])
			}
		}
	}
	return nil
}

// Bounds returns the region covering the whole tensor.
func (a *Tensor) Bounds() region.Region {
	return region.MustNew(
		region.Span{Start: 0, Stop: a.shape[0]},
		region.Span{Start: 0, Stop: a.shape[1]},
		region.Span{Start: 0, Stop: a.shape[2]},
		region.Span{Start: 0, Stop: a.shape[3]},
	)
}

// Clone returns a deep copy.
func (a *Tensor) Clone() *Tensor {
	out := New(a.shape[0], a.shape[1], a.shape[2], a.shape[3])
	copy(out.data, a.data)
	return out
}

// Equal reports element-wise equality of shape and data.
func (a *Tensor) Equal(b *Tensor) bool {
	if a.shape != b.shape {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}
