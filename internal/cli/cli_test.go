package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionalConfigPath(t *testing.T) {
	opts, exit, err := Parse([]string{"run.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "run.hcl", opts.ConfigPath)
	assert.Equal(t, 1, opts.Ranks)
	assert.Equal(t, []string{"node0"}, opts.Hosts)
}

func TestParseClusterFlags(t *testing.T) {
	opts, exit, err := Parse(
		[]string{"-ranks", "4", "-hosts", "a,a,b,b", "-gpus", "0,1", "-c", "run.hcl"},
		&bytes.Buffer{},
	)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, 4, opts.Ranks)
	assert.Equal(t, []string{"a", "a", "b", "b"}, opts.Hosts)
	assert.Equal(t, []int{0, 1}, opts.GPUs)
}

func TestParseNoPathPrintsUsage(t *testing.T) {
	out := &bytes.Buffer{}
	_, exit, err := Parse(nil, out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, args := range [][]string{
		{"-log-format", "yaml", "run.hcl"},
		{"-log-level", "loud", "run.hcl"},
		{"-gpus", "zero", "run.hcl"},
		{"-ranks", "2", "-hosts", "a", "run.hcl"},
	} {
		_, _, err := Parse(args, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr, "args: %v", args)
		assert.Equal(t, 2, exitErr.Code)
	}
}
