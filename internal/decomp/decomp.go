// Package decomp carves the global grid into per-rank regions. The split
// happens in three stages: nodes take contiguous block-column slabs of the
// x axis, each node's slab is divided between its GPU and CPU ranks by the
// affinity fraction, and the ranks of one architecture share their slice by
// rows of blocks along y. The write regions of all ranks tile the domain
// exactly; read regions are write regions grown by the stencil half-width.
// All coordinates are domain coordinates, the arena applies its own halo
// offset when a region is materialized.
package decomp

import (
	"fmt"
	"math"

	"github.com/walkanth/sweptgo/internal/region"
)

// Params carries the grid facts every region derivation needs.
type Params struct {
	NX, NY  int
	BS      int
	OPS     int
	Split   int
	V       int
	TimeLen int
}

// Regions is the full set of windows one rank works. WR/RR drive the
// pyramids and unshifted octahedra, SWR/SRR the diagonally shifted
// octahedra, XWR/XRR and YWR/YRR the x and y bridges.
type Regions struct {
	WR, RR   region.Region
	SWR, SRR region.Region
	XWR, XRR region.Region
	YWR, YRR region.Region
}

// Empty reports whether this rank received no work.
func (r Regions) Empty() bool { return r.WR.Empty() }

// NodeSlab returns node nodeID's x-axis span. Slabs are whole block
// columns, contiguous, in node order, with the remainder columns absorbed
// one per node starting at node 0.
func NodeSlab(nodeID, nodeCount, nx, bs int) (region.Span, error) {
	if nodeCount <= 0 || nodeID < 0 || nodeID >= nodeCount {
		return region.Span{}, fmt.Errorf("decomp: node %d outside %d nodes", nodeID, nodeCount)
	}
	cols := nx / bs
	if cols < nodeCount {
		return region.Span{}, fmt.Errorf("decomp: %d block columns cannot cover %d nodes", cols, nodeCount)
	}
	base, rem := cols/nodeCount, cols%nodeCount
	start := nodeID*base + min(nodeID, rem)
	count := base
	if nodeID < rem {
		count++
	}
	return region.Span{Start: start * bs, Stop: (start + count) * bs}, nil
}

// AffinitySplit divides a node slab's x span between the GPU and CPU ranks.
// The GPU side takes round(affinity * columns) whole block columns from the
// low end; the CPU side takes the rest. Either side may come back empty.
func AffinitySplit(affinity float64, bs int, slab region.Span) (gpu, cpu region.Span) {
	cols := slab.Len() / bs
	gpuCols := int(math.Round(affinity * float64(cols)))
	cut := slab.Start + gpuCols*bs
	return region.Span{Start: slab.Start, Stop: cut}, region.Span{Start: cut, Stop: slab.Stop}
}

// WriteRegion returns rank rankIdx's share of an architecture slice. The
// slice's rows of blocks are divided evenly along y, with remainder rows
// handed out one per rank starting at rank 0. A rank left without rows gets
// an empty region and is expected to vote itself out of the run.
func WriteRegion(rankIdx, nRanks int, xs region.Span, p Params) (region.Region, error) {
	if nRanks <= 0 || rankIdx < 0 || rankIdx >= nRanks {
		return region.Region{}, fmt.Errorf("decomp: rank %d outside group of %d", rankIdx, nRanks)
	}
	rows := p.NY / p.BS
	if xs.Empty() {
		rows = 0
	}
	base, rem := rows/nRanks, rows%nRanks
	start := rankIdx*base + min(rankIdx, rem)
	count := base
	if rankIdx < rem {
		count++
	}
	if count == 0 {
		return region.New(region.Span{Stop: p.TimeLen}, region.Span{Stop: p.V}, region.Span{}, region.Span{})
	}
	return region.New(
		region.Span{Stop: p.TimeLen},
		region.Span{Stop: p.V},
		xs,
		region.Span{Start: start * p.BS, Stop: (start + count) * p.BS},
	)
}

// ReadRegion grows a write region by the stencil half-width on both spatial
// axes. The extra border is the ghost data a phase reads but never writes.
func ReadRegion(wr region.Region, ops int) region.Region {
	if wr.Empty() {
		return wr
	}
	return wr.Expand(ops)
}

// ShiftRegions offsets a write region onto the half-block lattice given by
// (dx, dy) and wrap-splits whatever runs past the domain bounds back to the
// low edge. Callers working against a padded arena pass bounds that include
// the pad, in which case the result is always a single region.
func ShiftRegions(wr region.Region, dx, dy, boundX, boundY int) []region.Region {
	if wr.Empty() {
		return []region.Region{wr}
	}
	var out []region.Region
	for _, rx := range wr.ShiftSpatial(dx, dy).WrapX(0, boundX) {
		out = append(out, rx.WrapY(0, boundY)...)
	}
	return out
}

// Build derives the complete region set for one rank from its write region.
// The shifted and bridge windows live on lattices offset by the half-block
// split; against the padded arena none of them wrap, so each is a single
// region.
func Build(wr region.Region, p Params) Regions {
	if wr.Empty() {
		return Regions{WR: wr, RR: wr, SWR: wr, SRR: wr, XWR: wr, XRR: wr, YWR: wr, YRR: wr}
	}
	swr := wr.ShiftSpatial(p.Split, p.Split)
	xwr := wr.ShiftSpatial(p.Split, 0)
	ywr := wr.ShiftSpatial(0, p.Split)
	return Regions{
		WR: wr, RR: ReadRegion(wr, p.OPS),
		SWR: swr, SRR: ReadRegion(swr, p.OPS),
		XWR: xwr, XRR: ReadRegion(xwr, p.OPS),
		YWR: ywr, YRR: ReadRegion(ywr, p.OPS),
	}
}
