// Package kernel defines the numerical scheme capability the engine
// launches on each device, plus a registry of builtin schemes. A kernel
// advances one block copy by one sub-step: it writes plane ts+1 at exactly
// the points of the given layer, reading plane ts (and ts-1 for
// second-order schemes). Points outside the layer keep whatever the block
// was read with, which is what lets whole-block write-back compose with
// the complementary phases.
package kernel

import (
	"fmt"
	"sync"

	"github.com/walkanth/sweptgo/internal/indexset"
	"github.com/walkanth/sweptgo/internal/tensor"
)

// Kernel is one numerical scheme. Implementations must be safe for
// concurrent Step calls on distinct blocks after SetGlobals has run.
type Kernel interface {
	// SetGlobals hands the kernel its scheme constants once, before any
	// Step. onGPU tells the kernel which architecture it was compiled for;
	// builtins ignore it, it exists for schemes with split implementations.
	SetGlobals(onGPU bool, args []float64) error
	// Step writes plane ts+1 of block at the layer's points from plane ts.
	Step(block *tensor.Tensor, layer indexset.Layer, ts int) error
	// Order is the time-scheme order the kernel was written for.
	Order() int
}

// Factory builds a fresh kernel instance.
type Factory func() Kernel

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds a kernel factory under name. Registering the same name
// twice is a programming error and panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("kernel: duplicate registration of %q", name))
	}
	factories[name] = f
}

// New instantiates the named kernel.
func New(name string) (Kernel, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kernel: unknown kernel %q", name)
	}
	return f(), nil
}

// Names lists the registered kernels; diagnostics only.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	return out
}

func init() {
	Register("identity", func() Kernel { return &identity{} })
	Register("heat", func() Kernel { return &heat{} })
	Register("wave", func() Kernel { return &wave{} })
}

// identity copies each layer point forward unchanged. It exists for
// end-to-end verification: a full run must reproduce the initial condition
// at every recorded step regardless of decomposition or affinity.
type identity struct{}

func (identity) SetGlobals(bool, []float64) error { return nil }
func (identity) Order() int                       { return 1 }

func (identity) Step(block *tensor.Tensor, layer indexset.Layer, ts int) error {
	sh := block.Shape()
	for v := 0; v < sh[1]; v++ {
		for _, p := range layer {
			block.Set(ts+1, v, p.X, p.Y, block.At(ts, v, p.X, p.Y))
		}
	}
	return nil
}

// heat is the explicit five-point diffusion scheme,
// u' = u + alpha*dt*(d2u/dx2 + d2u/dy2). Globals: alpha, dt, dx, dy.
type heat struct {
	cx, cy float64
}

func (h *heat) SetGlobals(_ bool, args []float64) error {
	if len(args) != 4 {
		return fmt.Errorf("kernel: heat wants globals [alpha, dt, dx, dy], got %d values", len(args))
	}
	alpha, dt, dx, dy := args[0], args[1], args[2], args[3]
	if dx <= 0 || dy <= 0 {
		return fmt.Errorf("kernel: heat grid spacing must be positive, got dx=%g dy=%g", dx, dy)
	}
	h.cx = alpha * dt / (dx * dx)
	h.cy = alpha * dt / (dy * dy)
	return nil
}

func (*heat) Order() int { return 1 }

func (h *heat) Step(block *tensor.Tensor, layer indexset.Layer, ts int) error {
	sh := block.Shape()
	for v := 0; v < sh[1]; v++ {
		for _, p := range layer {
			c := block.At(ts, v, p.X, p.Y)
			d2x := block.At(ts, v, p.X+1, p.Y) - 2*c + block.At(ts, v, p.X-1, p.Y)
			d2y := block.At(ts, v, p.X, p.Y+1) - 2*c + block.At(ts, v, p.X, p.Y-1)
			block.Set(ts+1, v, p.X, p.Y, c+h.cx*d2x+h.cy*d2y)
		}
	}
	return nil
}

// wave is the leapfrog scheme for the second-order wave equation,
// u'' = c^2 * (d2u/dx2 + d2u/dy2). It reads planes ts and ts-1, so it runs
// under tso = 2 where the arena seeds both floor planes with the initial
// condition (a rest start). Globals: c, dt, dx, dy.
type wave struct {
	cx, cy float64
}

func (w *wave) SetGlobals(_ bool, args []float64) error {
	if len(args) != 4 {
		return fmt.Errorf("kernel: wave wants globals [c, dt, dx, dy], got %d values", len(args))
	}
	c, dt, dx, dy := args[0], args[1], args[2], args[3]
	if dx <= 0 || dy <= 0 {
		return fmt.Errorf("kernel: wave grid spacing must be positive, got dx=%g dy=%g", dx, dy)
	}
	w.cx = (c * dt / dx) * (c * dt / dx)
	w.cy = (c * dt / dy) * (c * dt / dy)
	return nil
}

func (*wave) Order() int { return 2 }

func (w *wave) Step(block *tensor.Tensor, layer indexset.Layer, ts int) error {
	sh := block.Shape()
	for v := 0; v < sh[1]; v++ {
		for _, p := range layer {
			c := block.At(ts, v, p.X, p.Y)
			prev := block.At(ts-1, v, p.X, p.Y)
			d2x := block.At(ts, v, p.X+1, p.Y) - 2*c + block.At(ts, v, p.X-1, p.Y)
			d2y := block.At(ts, v, p.X, p.Y+1) - 2*c + block.At(ts, v, p.X, p.Y-1)
			block.Set(ts+1, v, p.X, p.Y, 2*c-prev+w.cx*d2x+w.cy*d2y)
		}
	}
	return nil
}
