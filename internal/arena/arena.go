// Package arena manages the node-shared solution array. The arena owns a
// 4D tensor of shape (timeLen, V, nx+2*halo, ny+2*halo) with halo =
// ops + split: the stencil border plus the half-block headroom the shifted
// phases spill into. The interior sits at spatial offset ops, leaving a
// wide pad on the high side, so no shifted or bridge window ever wraps
// inside the tensor. Callers address the arena in domain coordinates; the
// arena applies the halo offset and the node's x origin itself.
//
// The arena does no locking. Ranks sharing it rely on disjoint write
// regions within a phase and a communicator barrier between phases.
package arena

import (
	"fmt"

	"github.com/walkanth/sweptgo/internal/region"
	"github.com/walkanth/sweptgo/internal/tensor"
)

// Arena is one node's time-windowed view of its slab of the domain.
type Arena struct {
	t *tensor.Tensor

	ops   int
	split int
	// originX is the domain x coordinate of the slab's first column.
	originX int
	nx, ny  int
	timeLen int
	nv      int
}

// New allocates a zeroed arena for a slab of nx*ny points and nv variables.
func New(timeLen, nv, nx, ny, ops, split, originX int) (*Arena, error) {
	if timeLen <= 0 || nv <= 0 || nx <= 0 || ny <= 0 || ops <= 0 || split <= 0 {
		return nil, fmt.Errorf("arena: non-positive dimension in (timeLen=%d, nv=%d, nx=%d, ny=%d, ops=%d, split=%d)",
			timeLen, nv, nx, ny, ops, split)
	}
	halo := ops + split
	return &Arena{
		t:       tensor.New(timeLen, nv, nx+2*halo, ny+2*halo),
		ops:     ops,
		split:   split,
		originX: originX,
		nx:      nx,
		ny:      ny,
		timeLen: timeLen,
		nv:      nv,
	}, nil
}

// Interior returns the slab's domain-coordinate region over all time planes.
func (a *Arena) Interior() region.Region {
	return region.MustNew(
		region.Span{Stop: a.timeLen},
		region.Span{Stop: a.nv},
		region.Span{Start: a.originX, Stop: a.originX + a.nx},
		region.Span{Stop: a.ny},
	)
}

// localize maps a domain-coordinate region onto tensor indices.
func (a *Arena) localize(r region.Region) region.Region {
	return r.ShiftSpatial(a.ops-a.originX, a.ops)
}

// Read copies the window r out of the arena. r is in domain coordinates and
// may extend past the slab by up to ops+split on the high side and ops on
// the low side.
func (a *Arena) Read(r region.Region) (*tensor.Tensor, error) {
	return a.t.ReadRegion(a.localize(r))
}

// Write copies src into the window r. Same coordinate rules as Read; the
// caller must hold exclusive or barrier-separated access to r.
func (a *Arena) Write(r region.Region, src *tensor.Tensor) error {
	return a.t.WriteRegion(a.localize(r), src)
}

// LoadInitial seeds the start of a run: every time plane up to and
// including floor receives a copy of src. Second-order schemes read one
// plane below their first step, and starting both floor planes from the
// same slice encodes a rest start. src must have shape (1, nv, nx, ny).
func (a *Arena) LoadInitial(src *tensor.Tensor, floor int) error {
	want := [4]int{1, a.nv, a.nx, a.ny}
	if src.Shape() != want {
		return fmt.Errorf("arena: initial condition shape %v, want %v", src.Shape(), want)
	}
	for p := 0; p <= floor; p++ {
		r := region.MustNew(
			region.Span{Start: p, Stop: p + 1},
			region.Span{Stop: a.nv},
			region.Span{Start: a.originX, Stop: a.originX + a.nx},
			region.Span{Stop: a.ny},
		)
		if err := a.Write(r, src); err != nil {
			return err
		}
	}
	return nil
}

// BoundaryUpdate refreshes both axes' halo pads from the interior under
// periodic boundary conditions. Idempotent: running it twice in a row
// leaves the arena unchanged. Multi-node runs refresh the x pads through
// the slab exchange instead and call BoundaryUpdateY alone.
func (a *Arena) BoundaryUpdate() error {
	if err := a.BoundaryUpdateX(); err != nil {
		return err
	}
	return a.BoundaryUpdateY()
}

// BoundaryUpdateX wraps the x-axis pads: the low pad (ops columns) takes
// the interior's last ops columns, the high pad takes the interior's first
// split+2*ops columns. That depth is the deepest any shifted or bridge
// read reaches; it never exceeds the slab width, so source and pad stay
// disjoint even on a one-block slab.
func (a *Arena) BoundaryUpdateX() error {
	all := a.t.Bounds()
	hi := a.split + 2*a.ops

	low := all
	low.X = region.Span{Start: 0, Stop: a.ops}
	lowSrc := all
	lowSrc.X = region.Span{Start: a.nx, Stop: a.nx + a.ops}
	if err := a.t.CopyWindow(low, a.t, lowSrc); err != nil {
		return fmt.Errorf("arena: x boundary low: %w", err)
	}

	high := all
	high.X = region.Span{Start: a.ops + a.nx, Stop: a.ops + a.nx + hi}
	highSrc := all
	highSrc.X = region.Span{Start: a.ops, Stop: a.ops + hi}
	if err := a.t.CopyWindow(high, a.t, highSrc); err != nil {
		return fmt.Errorf("arena: x boundary high: %w", err)
	}
	return nil
}

// BoundaryUpdateY wraps the y-axis pads to the same depth as
// BoundaryUpdateX.
func (a *Arena) BoundaryUpdateY() error {
	all := a.t.Bounds()
	hi := a.split + 2*a.ops

	low := all
	low.Y = region.Span{Start: 0, Stop: a.ops}
	lowSrc := all
	lowSrc.Y = region.Span{Start: a.ny, Stop: a.ny + a.ops}
	if err := a.t.CopyWindow(low, a.t, lowSrc); err != nil {
		return fmt.Errorf("arena: y boundary low: %w", err)
	}

	high := all
	high.Y = region.Span{Start: a.ops + a.ny, Stop: a.ops + a.ny + hi}
	highSrc := all
	highSrc.Y = region.Span{Start: a.ops, Stop: a.ops + hi}
	if err := a.t.CopyWindow(high, a.t, highSrc); err != nil {
		return fmt.Errorf("arena: y boundary high: %w", err)
	}
	return nil
}

// EdgeWriteback folds the shifted lattice's spill back into the interior:
// the split-wide slab the shifted phases wrote past the interior's high
// edge is the data for the interior's first split columns (or rows). Runs
// after the barrier closing a shifted phase, before the next boundary
// refresh.
func (a *Arena) EdgeWriteback() error {
	if err := a.EdgeWritebackX(); err != nil {
		return err
	}
	return a.EdgeWritebackY()
}

// EdgeWritebackX copies the x high-pad spill onto the interior's low edge.
func (a *Arena) EdgeWritebackX() error {
	all := a.t.Bounds()
	dst := all
	dst.X = region.Span{Start: a.ops, Stop: a.ops + a.split}
	src := all
	src.X = region.Span{Start: a.ops + a.nx, Stop: a.ops + a.nx + a.split}
	if err := a.t.CopyWindow(dst, a.t, src); err != nil {
		return fmt.Errorf("arena: x edge writeback: %w", err)
	}
	return nil
}

// EdgeWritebackY copies the y high-pad spill onto the interior's low edge.
func (a *Arena) EdgeWritebackY() error {
	all := a.t.Bounds()
	dst := all
	dst.Y = region.Span{Start: a.ops, Stop: a.ops + a.split}
	src := all
	src.Y = region.Span{Start: a.ops + a.ny, Stop: a.ops + a.ny + a.split}
	if err := a.t.CopyWindow(dst, a.t, src); err != nil {
		return fmt.Errorf("arena: y edge writeback: %w", err)
	}
	return nil
}

// ShiftTime recycles the circular time window: plane t takes plane t+n for
// every t that still has a source, and the vacated top planes are zeroed.
func (a *Arena) ShiftTime(n int) error {
	if n <= 0 || n >= a.timeLen {
		return fmt.Errorf("arena: shift of %d planes outside window of %d", n, a.timeLen)
	}
	all := a.t.Bounds()
	dst := all
	dst.T = region.Span{Start: 0, Stop: a.timeLen - n}
	src := all
	src.T = region.Span{Start: n, Stop: a.timeLen}
	if err := a.t.CopyWindow(dst, a.t, src); err != nil {
		return fmt.Errorf("arena: time shift: %w", err)
	}
	top := all
	top.T = region.Span{Start: a.timeLen - n, Stop: a.timeLen}
	sh := top.Shape()
	if err := a.t.WriteRegion(top, tensor.New(sh[0], sh[1], sh[2], sh[3])); err != nil {
		return fmt.Errorf("arena: time shift clear: %w", err)
	}
	return nil
}

// Tensor exposes the backing tensor for the slab exchange, which moves raw
// windows between arenas.
func (a *Arena) Tensor() *tensor.Tensor { return a.t }

// Halo returns the total pad width per side pair (ops + split).
func (a *Arena) Halo() int { return a.ops + a.split }
