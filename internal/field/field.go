// Package field generates initial conditions. A generator fills one
// (1, V, NX, NY) tensor from the run's initial block; every variable
// starts from the same spatial profile.
package field

import (
	"fmt"
	"math"

	"github.com/walkanth/sweptgo/internal/config"
	"github.com/walkanth/sweptgo/internal/tensor"
)

// Generate builds the initial condition named by cfg.Initial.
func Generate(cfg *config.Run) (*tensor.Tensor, error) {
	var f func(x, y int) float64
	p := params{m: cfg.Initial.Params}
	switch cfg.Initial.Kind {
	case "uniform":
		v := p.get("value", 0)
		f = func(int, int) float64 { return v }
	case "gauss":
		amp := p.get("amplitude", 1)
		sigma := p.get("sigma", float64(cfg.NX)/8)
		cx := p.get("cx", float64(cfg.NX)/2)
		cy := p.get("cy", float64(cfg.NY)/2)
		if sigma <= 0 {
			return nil, fmt.Errorf("field: gauss sigma must be positive, got %g", sigma)
		}
		f = func(x, y int) float64 {
			dx, dy := float64(x)-cx, float64(y)-cy
			return amp * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
		}
	case "sine":
		amp := p.get("amplitude", 1)
		kx := p.get("kx", 1)
		ky := p.get("ky", 1)
		f = func(x, y int) float64 {
			return amp *
				math.Sin(2*math.Pi*kx*float64(x)/float64(cfg.NX)) *
				math.Sin(2*math.Pi*ky*float64(y)/float64(cfg.NY))
		}
	default:
		return nil, fmt.Errorf("field: unknown initial condition %q", cfg.Initial.Kind)
	}

	out := tensor.New(1, cfg.Variables, cfg.NX, cfg.NY)
	for v := 0; v < cfg.Variables; v++ {
		for x := 0; x < cfg.NX; x++ {
			for y := 0; y < cfg.NY; y++ {
				out.Set(0, v, x, y, f(x, y))
			}
		}
	}
	return out, nil
}

type params struct {
	m map[string]float64
}

func (p params) get(name string, def float64) float64 {
	if v, ok := p.m[name]; ok {
		return v
	}
	return def
}
