// Package config defines the immutable run configuration of a swept
// simulation and the derived swept-cycle constants. A Run is constructed
// once, validated before any rank begins compute, and passed by reference
// into every component; no swept parameter lives in mutable package state.
package config

import (
	"fmt"
	"math"
)

// Run holds everything a simulation needs that is known before startup.
type Run struct {
	// Domain shape: Variables equation variables over an NX x NY grid.
	Variables int
	NX, NY    int

	// Physical time parameters.
	T0, TF, DT float64

	// TSO is the time-integration scheme order.
	TSO int
	// OPS is the stencil half-width: boundary points removed per step.
	OPS int
	// BlockSize is the square spatial block edge, the GPU thread-block
	// analog. Must satisfy BlockSize % (2*OPS) == 0.
	BlockSize int
	// Affinity is the fraction of work assigned to GPU ranks, in [0, 1].
	Affinity float64

	// Kernel names the registered stencil kernel.
	Kernel string
	// KernelArgs is handed to the kernel's SetGlobals hook verbatim.
	KernelArgs []float64

	// ExcludeGPUs lists device ids never assigned to ranks.
	ExcludeGPUs []int

	// Output is the persistence sink path; empty selects the memory sink.
	Output string

	// Initial selects the built-in initial-condition generator.
	Initial Initial
}

// Initial describes the initial condition loaded into the arena.
type Initial struct {
	Kind   string
	Params map[string]float64
}

// Derived are the swept-cycle constants computed from a validated Run.
type Derived struct {
	// Split is the half-block diagonal shift, BlockSize/2.
	Split int
	// Halo is the per-side arena pad, OPS + Split.
	Halo int
	// MPSS is the pyramid layer count: slices one swept cycle advances.
	MPSS int
	// MOSS is the octahedron layer count, 2*MPSS - 1.
	MOSS int
	// TimeSteps is the requested step count, (TF-T0)/DT rounded to the
	// nearest integer so that exact-multiple intervals are immune to
	// floating-point representation of DT.
	TimeSteps int
	// MGST is the total number of global swept steps:
	// TSO * ceil(TimeSteps/MOSS). The loop never stops mid-cycle, so the
	// effective simulated span rounds up to a whole number of cycles.
	MGST int
	// TimeLen is the arena time-axis length, MOSS + TSO + 1.
	TimeLen int
	// Writes is how many checkpoint writes the run performs.
	Writes int
	// OutputSteps is the number of recorded time rows, Writes*MPSS.
	OutputSteps int
}

// Validate checks every configuration precondition. It must pass before any
// rank begins compute; a violation is fatal to the whole run.
func (r *Run) Validate() error {
	if r.Variables < 1 {
		return fmt.Errorf("config: need at least one variable, got %d", r.Variables)
	}
	if r.NX <= 0 || r.NY <= 0 {
		return fmt.Errorf("config: domain shape (%d, %d) must be positive", r.NX, r.NY)
	}
	if r.OPS <= 0 {
		return fmt.Errorf("config: stencil half-width must be positive, got %d", r.OPS)
	}
	if r.TSO != 1 && r.TSO != 2 {
		return fmt.Errorf("config: time scheme order must be 1 or 2, got %d", r.TSO)
	}
	if r.BlockSize <= 0 || r.BlockSize%(2*r.OPS) != 0 {
		return fmt.Errorf("config: block size %d must be a positive multiple of 2*OPS=%d", r.BlockSize, 2*r.OPS)
	}
	if r.NX%r.BlockSize != 0 || r.NY%r.BlockSize != 0 {
		return fmt.Errorf("config: domain shape (%d, %d) is not divisible into %d-blocks", r.NX, r.NY, r.BlockSize)
	}
	if r.Affinity < 0 || r.Affinity > 1 {
		return fmt.Errorf("config: affinity %g outside [0, 1]", r.Affinity)
	}
	if r.DT <= 0 {
		return fmt.Errorf("config: time step %g must be positive", r.DT)
	}
	if r.TF <= r.T0 {
		return fmt.Errorf("config: empty time interval [%g, %g]", r.T0, r.TF)
	}
	if r.Kernel == "" {
		return fmt.Errorf("config: no kernel named")
	}

	d := r.derive()
	if d.TimeSteps <= d.MOSS {
		return fmt.Errorf("config: %d time steps do not cover one octahedron cycle of %d; shrink the block or extend the interval",
			d.TimeSteps, d.MOSS)
	}
	return nil
}

// Derive computes the swept constants. It validates first so that callers
// can never observe constants from an inconsistent configuration.
func (r *Run) Derive() (Derived, error) {
	if err := r.Validate(); err != nil {
		return Derived{}, err
	}
	return r.derive(), nil
}

func (r *Run) derive() Derived {
	d := Derived{
		Split: r.BlockSize / 2,
		MPSS:  r.BlockSize / (2 * r.OPS),
	}
	d.Halo = r.OPS + d.Split
	d.MOSS = 2*d.MPSS - 1
	d.TimeSteps = int(math.Round((r.TF - r.T0) / r.DT))
	if d.TimeSteps > 0 {
		d.MGST = r.TSO * int(math.Ceil(float64(d.TimeSteps)/float64(d.MOSS)))
	}
	d.TimeLen = d.MOSS + r.TSO + 1
	d.Writes = 2*d.MGST + 2
	d.OutputSteps = d.Writes * d.MPSS
	return d
}
