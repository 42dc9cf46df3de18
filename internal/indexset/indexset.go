// Package indexset builds the per-sub-step index sets that drive the swept
// phases: the shrinking pyramid layers, their time-reversed growing
// counterparts, the combined octahedron sequence, and the diagonal bridge
// strips between adjacent blocks.
//
// All coordinates are block-local offsets into a (bx+2*ops, by+2*ops) tile,
// i.e. they include the ops-wide ghost border, so a layer can be handed
// directly to a kernel operating on a haloed block. Layer k of the up
// sequence is the centered rectangle whose extent shrinks by 2*ops per axis
// per layer, from the full block footprint at k=0 down to the minimal
// 2*ops core.
package indexset

import "fmt"

// Point is an (x, y) offset into a haloed block tile.
type Point struct {
	X, Y int
}

// Layer is the set of points a kernel may validly update at one sub-step.
type Layer []Point

// Rect is a half-open rectangle used internally to describe a layer.
type Rect struct {
	X0, X1, Y0, Y1 int
}

// Bounds returns the bounding rectangle of the layer. Layers built by this
// package are dense rectangles, so the bound covers exactly the layer's
// points.
func (l Layer) Bounds() Rect {
	if len(l) == 0 {
		return Rect{}
	}
	r := Rect{X0: l[0].X, X1: l[0].X + 1, Y0: l[0].Y, Y1: l[0].Y + 1}
	for _, p := range l[1:] {
		r.X0 = min(r.X0, p.X)
		r.X1 = max(r.X1, p.X+1)
		r.Y0 = min(r.Y0, p.Y)
		r.Y1 = max(r.Y1, p.Y+1)
	}
	return r
}

// Points materializes the rectangle row-major.
func (r Rect) Points() Layer {
	if r.X1 <= r.X0 || r.Y1 <= r.Y0 {
		return nil
	}
	pts := make(Layer, 0, (r.X1-r.X0)*(r.Y1-r.Y0))
	for x := r.X0; x < r.X1; x++ {
		for y := r.Y0; y < r.Y1; y++ {
			pts = append(pts, Point{X: x, Y: y})
		}
	}
	return pts
}

// Steps returns the number of up-pyramid layers for the given block size,
// counting the full footprint as layer zero. This is MPSS: one swept cycle
// advances the solution by Steps time slices.
func Steps(bx, by, ops int) int {
	return min(bx, by) / (2 * ops)
}

func validate(bx, by, ops int) error {
	if ops <= 0 {
		return fmt.Errorf("indexset: stencil half-width must be positive, got %d", ops)
	}
	if bx%(2*ops) != 0 || by%(2*ops) != 0 {
		return fmt.Errorf("indexset: block size (%d, %d) is not a multiple of 2*ops=%d", bx, by, 2*ops)
	}
	return nil
}

// UpRects returns the rectangles of the up sequence.
func UpRects(bx, by, ops int) ([]Rect, error) {
	if err := validate(bx, by, ops); err != nil {
		return nil, err
	}
	mpss := Steps(bx, by, ops)
	rects := make([]Rect, 0, mpss)
	for k := 0; k < mpss; k++ {
		rects = append(rects, Rect{
			X0: ops + k*ops, X1: ops + bx - k*ops,
			Y0: ops + k*ops, Y1: ops + by - k*ops,
		})
	}
	return rects, nil
}

// Up returns the up-pyramid layer sequence: layer k is the centered
// rectangle of extent (bx-2*ops*k, by-2*ops*k). Layer 0 is the full block
// footprint (the base, never computed); the final layer is the apex core.
func Up(bx, by, ops int) ([]Layer, error) {
	rects, err := UpRects(bx, by, ops)
	if err != nil {
		return nil, err
	}
	return layers(rects), nil
}

// Down returns the exact reverse of the up sequence: the growing footprint
// of the down pyramid and of the lower half of the octahedron.
func Down(bx, by, ops int) ([]Layer, error) {
	up, err := Up(bx, by, ops)
	if err != nil {
		return nil, err
	}
	down := make([]Layer, len(up))
	for i, l := range up {
		down[len(up)-1-i] = l
	}
	return down, nil
}

// Octahedron returns the combined down-then-up sequence. The full-footprint
// apex shared by the two halves appears exactly once, so the sequence has
// 2*Steps-1 entries: this is MOSS, the number of slices one octahedron
// advances.
func Octahedron(bx, by, ops int) ([]Layer, error) {
	down, err := Down(bx, by, ops)
	if err != nil {
		return nil, err
	}
	up, err := Up(bx, by, ops)
	if err != nil {
		return nil, err
	}
	return append(down, up[1:]...), nil
}

// BridgeRects returns the rectangles of the x-oriented and y-oriented bridge
// sequences, one per sub-step k=1..Steps-1. The x bridge resolves the strip
// between two blocks adjacent along x: it grows along x by 2*ops per layer
// while shrinking along y, centered on the half-block-shifted lattice. The
// y bridge is computed independently with the axes exchanged; for square
// blocks the two are mirror images.
func BridgeRects(bx, by, ops int) (xr, yr []Rect, err error) {
	if err := validate(bx, by, ops); err != nil {
		return nil, nil, err
	}
	mpss := Steps(bx, by, ops)
	sx, sy := bx/2, by/2
	for k := 1; k < mpss; k++ {
		xr = append(xr, Rect{
			X0: ops + sx - k*ops, X1: ops + sx + k*ops,
			Y0: ops + k*ops, Y1: ops + by - k*ops,
		})
		yr = append(yr, Rect{
			X0: ops + k*ops, X1: ops + bx - k*ops,
			Y0: ops + sy - k*ops, Y1: ops + sy + k*ops,
		})
	}
	return xr, yr, nil
}

// Bridges materializes BridgeRects into layer sequences.
func Bridges(bx, by, ops int) (xb, yb []Layer, err error) {
	xr, yr, err := BridgeRects(bx, by, ops)
	if err != nil {
		return nil, nil, err
	}
	return layers(xr), layers(yr), nil
}

func layers(rects []Rect) []Layer {
	ls := make([]Layer, len(rects))
	for i, r := range rects {
		ls[i] = r.Points()
	}
	return ls
}
