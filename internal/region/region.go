// Package region defines the window algebra used to address the shared
// arena. A Region is an ordered tuple of half-open ranges over the
// (time, variable, x, y) axes and is the sole addressing mechanism between
// the decomposer, the arena and the execution engine. Regions are value
// types: every operation returns a new Region and never mutates the
// receiver.
package region

import "fmt"

// Span is a half-open range [Start, Stop).
type Span struct {
	Start int
	Stop  int
}

// NewSpan validates that stop >= start and returns the span.
func NewSpan(start, stop int) (Span, error) {
	if stop < start {
		return Span{}, fmt.Errorf("region: negative span width [%d, %d)", start, stop)
	}
	return Span{Start: start, Stop: stop}, nil
}

// Len returns the width of the span.
func (s Span) Len() int { return s.Stop - s.Start }

// Empty reports whether the span covers no indices.
func (s Span) Empty() bool { return s.Stop <= s.Start }

// Shift returns the span offset by d.
func (s Span) Shift(d int) Span { return Span{Start: s.Start + d, Stop: s.Stop + d} }

// Expand returns the span grown by n on both ends.
func (s Span) Expand(n int) Span { return Span{Start: s.Start - n, Stop: s.Stop + n} }

// Intersect returns the overlap of two spans. A disjoint pair yields an
// empty span anchored at the larger start.
func (s Span) Intersect(o Span) Span {
	r := Span{Start: max(s.Start, o.Start), Stop: min(s.Stop, o.Stop)}
	if r.Stop < r.Start {
		r.Stop = r.Start
	}
	return r
}

// Contains reports whether i falls inside the span.
func (s Span) Contains(i int) bool { return i >= s.Start && i < s.Stop }

// Region is a window into a 4D (time, variable, x, y) tensor.
type Region struct {
	T, V, X, Y Span
}

// New validates all four spans and returns the region. A zero-width span is
// legal (the empty region emitted for pruned ranks); a negative width is not.
func New(t, v, x, y Span) (Region, error) {
	for _, s := range []Span{t, v, x, y} {
		if s.Stop < s.Start {
			return Region{}, fmt.Errorf("region: negative span width [%d, %d)", s.Start, s.Stop)
		}
	}
	return Region{T: t, V: v, X: x, Y: y}, nil
}

// MustNew is New for statically correct spans; it panics on a negative width.
func MustNew(t, v, x, y Span) Region {
	r, err := New(t, v, x, y)
	if err != nil {
		panic(err)
	}
	return r
}

// Shape returns the per-axis widths in (t, v, x, y) order.
func (r Region) Shape() [4]int {
	return [4]int{r.T.Len(), r.V.Len(), r.X.Len(), r.Y.Len()}
}

// Empty reports whether any axis has zero width.
func (r Region) Empty() bool {
	return r.T.Empty() || r.V.Empty() || r.X.Empty() || r.Y.Empty()
}

// Expand grows the spatial axes by ops on each side. This is the
// write-region to read-region transform: the halo needed to compute the
// interior.
func (r Region) Expand(ops int) Region {
	r.X = r.X.Expand(ops)
	r.Y = r.Y.Expand(ops)
	return r
}

// ShiftSpatial offsets the spatial axes by (dx, dy).
func (r Region) ShiftSpatial(dx, dy int) Region {
	r.X = r.X.Shift(dx)
	r.Y = r.Y.Shift(dy)
	return r
}

// ShiftTime offsets the time axis by dt.
func (r Region) ShiftTime(dt int) Region {
	r.T = r.T.Shift(dt)
	return r
}

// WithTime replaces the time span, keeping the other axes.
func (r Region) WithTime(t Span) Region {
	r.T = t
	return r
}

// Intersect returns the axis-wise overlap of two regions.
func (r Region) Intersect(o Region) Region {
	return Region{
		T: r.T.Intersect(o.T),
		V: r.V.Intersect(o.V),
		X: r.X.Intersect(o.X),
		Y: r.Y.Intersect(o.Y),
	}
}

// WrapX splits a region whose x span runs past bound into the in-range part
// and the wrapped remainder starting at lo. A region entirely in range comes
// back unchanged as a single-element slice.
func (r Region) WrapX(lo, bound int) []Region {
	if r.X.Stop <= bound {
		return []Region{r}
	}
	head := r
	head.X = Span{Start: r.X.Start, Stop: bound}
	tail := r
	tail.X = Span{Start: lo, Stop: lo + r.X.Stop - bound}
	return []Region{head, tail}
}

// WrapY is WrapX for the y axis.
func (r Region) WrapY(lo, bound int) []Region {
	if r.Y.Stop <= bound {
		return []Region{r}
	}
	head := r
	head.Y = Span{Start: r.Y.Start, Stop: bound}
	tail := r
	tail.Y = Span{Start: lo, Stop: lo + r.Y.Stop - bound}
	return []Region{head, tail}
}

func (r Region) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d, %d:%d, %d:%d]",
		r.T.Start, r.T.Stop, r.V.Start, r.V.Stop, r.X.Start, r.X.Stop, r.Y.Start, r.Y.Stop)
}
