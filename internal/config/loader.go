package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/walkanth/sweptgo/internal/ctxlog"
)

// file mirrors the HCL layout of a run configuration.
type file struct {
	Domain  domainBlock   `hcl:"domain,block"`
	Swept   sweptBlock    `hcl:"swept,block"`
	Output  *outputBlock  `hcl:"output,block"`
	Initial *initialBlock `hcl:"initial,block"`
}

type domainBlock struct {
	Variables int     `hcl:"variables"`
	NX        int     `hcl:"nx"`
	NY        int     `hcl:"ny"`
	T0        float64 `hcl:"t0"`
	TF        float64 `hcl:"tf"`
	DT        float64 `hcl:"dt"`
}

type sweptBlock struct {
	TSO         int       `hcl:"tso"`
	OPS         int       `hcl:"ops"`
	BlockSize   int       `hcl:"block_size"`
	Affinity    float64   `hcl:"affinity"`
	Kernel      string    `hcl:"kernel"`
	KernelArgs  []float64 `hcl:"kernel_args,optional"`
	ExcludeGPUs []int     `hcl:"exclude_gpus,optional"`
}

type outputBlock struct {
	Path string `hcl:"path"`
}

type initialBlock struct {
	Kind string   `hcl:"kind,label"`
	Body hcl.Body `hcl:",remain"`
}

// Load reads and validates a run configuration from an HCL file.
func Load(ctx context.Context, path string) (*Run, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parse %s: %w", path, diags)
	}
	return decode(ctx, hclFile)
}

// LoadBytes is Load over an in-memory document; the name shows up in
// diagnostics.
func LoadBytes(ctx context.Context, src []byte, name string) (*Run, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parse %s: %w", name, diags)
	}
	return decode(ctx, hclFile)
}

func decode(ctx context.Context, hclFile *hcl.File) (*Run, error) {
	logger := ctxlog.FromContext(ctx)

	var f file
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &f); diags.HasErrors() {
		return nil, fmt.Errorf("config: decode: %w", diags)
	}

	run := &Run{
		Variables:   f.Domain.Variables,
		NX:          f.Domain.NX,
		NY:          f.Domain.NY,
		T0:          f.Domain.T0,
		TF:          f.Domain.TF,
		DT:          f.Domain.DT,
		TSO:         f.Swept.TSO,
		OPS:         f.Swept.OPS,
		BlockSize:   f.Swept.BlockSize,
		Affinity:    f.Swept.Affinity,
		Kernel:      f.Swept.Kernel,
		KernelArgs:  f.Swept.KernelArgs,
		ExcludeGPUs: f.Swept.ExcludeGPUs,
		Initial:     Initial{Kind: "uniform", Params: map[string]float64{"value": 0}},
	}
	if f.Output != nil {
		run.Output = f.Output.Path
	}
	if f.Initial != nil {
		params, err := initialParams(f.Initial.Body)
		if err != nil {
			return nil, err
		}
		run.Initial = Initial{Kind: f.Initial.Kind, Params: params}
	}

	if err := run.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("Run configuration loaded.",
		"nx", run.NX, "ny", run.NY, "block", run.BlockSize,
		"affinity", run.Affinity, "kernel", run.Kernel)
	return run, nil
}

// initialParams evaluates the free-form attributes of an initial block into
// numbers, e.g. `initial "gauss" { amplitude = 2.5 }`.
func initialParams(body hcl.Body) (map[string]float64, error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: initial block: %w", diags)
	}
	params := make(map[string]float64, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("config: initial parameter %q: %w", name, diags)
		}
		num, err := convert.Convert(val, cty.Number)
		if err != nil {
			return nil, fmt.Errorf("config: initial parameter %q is not a number: %w", name, err)
		}
		var v float64
		if err := gocty.FromCtyValue(num, &v); err != nil {
			return nil, fmt.Errorf("config: initial parameter %q: %w", name, err)
		}
		params[name] = v
	}
	return params, nil
}
