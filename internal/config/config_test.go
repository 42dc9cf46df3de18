package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRun() *Run {
	return &Run{
		Variables: 1,
		NX:        16,
		NY:        16,
		T0:        0,
		TF:        1.0,
		DT:        0.1,
		TSO:       1,
		OPS:       1,
		BlockSize: 4,
		Affinity:  0,
		Kernel:    "identity",
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	require.NoError(t, validRun().Validate())
}

func TestBlockSizeStencilConstraint(t *testing.T) {
	for _, tc := range []struct {
		bs, ops int
		ok      bool
	}{
		{4, 1, true},
		{8, 2, true},
		{12, 2, true},
		{6, 2, false},
		{5, 1, false},
		{4, 3, false},
	} {
		r := validRun()
		r.NX, r.NY = 4*tc.bs*tc.ops, 4*tc.bs*tc.ops
		r.BlockSize, r.OPS = tc.bs, tc.ops
		r.TF = 100 // keep the step count ample for every geometry
		r.DT = 0.1
		err := r.Validate()
		if tc.ok {
			assert.NoError(t, err, "bs=%d ops=%d", tc.bs, tc.ops)
		} else {
			assert.Error(t, err, "bs=%d ops=%d", tc.bs, tc.ops)
		}
	}
}

func TestShortIntervalRejected(t *testing.T) {
	r := validRun()
	// MOSS = 3 for BS=4, OPS=1; two steps cannot cover a cycle.
	r.TF = 0.2
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "octahedron")
}

func TestDerivedConstants(t *testing.T) {
	r := validRun()
	d, err := r.Derive()
	require.NoError(t, err)

	assert.Equal(t, 2, d.Split)
	assert.Equal(t, 3, d.Halo)
	assert.Equal(t, 2, d.MPSS)
	assert.Equal(t, 3, d.MOSS)
	assert.Equal(t, 10, d.TimeSteps)
	assert.Equal(t, 4, d.MGST) // ceil(10/3) = 4, TSO 1
	assert.Equal(t, d.MOSS+r.TSO+1, d.TimeLen)
	assert.Equal(t, 2*d.MGST+2, d.Writes)
	assert.Equal(t, d.Writes*d.MPSS, d.OutputSteps)
}

func TestLoadBytes(t *testing.T) {
	src := []byte(`
domain {
  variables = 1
  nx        = 16
  ny        = 16
  t0        = 0
  tf        = 1.0
  dt        = 0.1
}

swept {
  tso        = 1
  ops        = 1
  block_size = 4
  affinity   = 0.5
  kernel     = "heat"
  exclude_gpus = [2]
}

output {
  path = "run.bin"
}

initial "uniform" {
  value = 3.5
}
`)
	run, err := LoadBytes(context.Background(), src, "run.hcl")
	require.NoError(t, err)
	assert.Equal(t, 16, run.NX)
	assert.Equal(t, 0.5, run.Affinity)
	assert.Equal(t, "heat", run.Kernel)
	assert.Equal(t, []int{2}, run.ExcludeGPUs)
	assert.Equal(t, "run.bin", run.Output)
	assert.Equal(t, "uniform", run.Initial.Kind)
	assert.Equal(t, 3.5, run.Initial.Params["value"])
}

func TestLoadBytesRejectsInvalid(t *testing.T) {
	src := []byte(`
domain {
  variables = 1
  nx        = 16
  ny        = 16
  t0        = 0
  tf        = 1.0
  dt        = 0.1
}

swept {
  tso        = 1
  ops        = 2
  block_size = 6
  affinity   = 0
  kernel     = "identity"
}
`)
	_, err := LoadBytes(context.Background(), src, "bad.hcl")
	require.Error(t, err)
}
