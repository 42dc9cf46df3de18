// Package sink persists recorded time slices. The engine hands every sink
// a run of output rows plus the spatial window they cover; writers for
// disjoint windows may run concurrently, which is how the ranks of one
// node flush their regions side by side. The file sink is a flat binary
// format with a self-describing header; the memory sink backs tests and
// reassembly checks.
package sink

import (
	"fmt"
	"sync"

	"github.com/walkanth/sweptgo/internal/region"
	"github.com/walkanth/sweptgo/internal/tensor"
)

// Meta describes a run in the sink's header.
type Meta struct {
	OutputSteps int
	NV, NX, NY  int
	BS          int
	Affinity    float64
	T0, DT      float64
	// Elapsed is the mean wall-clock seconds per rank, recorded at the end
	// of the run.
	Elapsed float64
}

// Sink receives recorded slices. Write stores src, whose shape is
// (rowEnd-rowStart, NV, spatial.X.Len(), spatial.Y.Len()), at output rows
// [rowStart, rowEnd) under the spatial window. Writes to disjoint windows
// must be safe to run concurrently. SetElapsed records the timing gather;
// Close flushes and finalizes the header.
type Sink interface {
	Write(rowStart, rowEnd int, spatial region.Region, src *tensor.Tensor) error
	SetElapsed(seconds float64)
	Close() error
}

// Memory accumulates the whole output tensor in memory.
type Memory struct {
	mu   sync.Mutex
	meta Meta
	out  *tensor.Tensor
}

// NewMemory allocates a zeroed in-memory sink for the given run shape.
func NewMemory(meta Meta) *Memory {
	return &Memory{
		meta: meta,
		out:  tensor.New(meta.OutputSteps, meta.NV, meta.NX, meta.NY),
	}
}

func (m *Memory) Write(rowStart, rowEnd int, spatial region.Region, src *tensor.Tensor) error {
	if rowStart < 0 || rowEnd > m.meta.OutputSteps || rowEnd < rowStart {
		return fmt.Errorf("sink: rows [%d, %d) outside %d output steps", rowStart, rowEnd, m.meta.OutputSteps)
	}
	dst := region.MustNew(
		region.Span{Start: rowStart, Stop: rowEnd},
		region.Span{Stop: m.meta.NV},
		spatial.X,
		spatial.Y,
	)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.out.WriteRegion(dst, src); err != nil {
		return fmt.Errorf("sink: memory write: %w", err)
	}
	return nil
}

func (m *Memory) SetElapsed(seconds float64) {
	m.mu.Lock()
	m.meta.Elapsed = seconds
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }

// Meta returns the header, including any recorded elapsed time.
func (m *Memory) Meta() Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta
}

// Result exposes the accumulated output tensor.
func (m *Memory) Result() *tensor.Tensor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out
}
