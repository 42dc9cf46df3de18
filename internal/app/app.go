// Package app contains the core application logic: loading a run
// configuration, spawning the process world, and driving every rank
// through the swept cycle. It is decoupled from any specific entrypoint
// like a CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/walkanth/sweptgo/internal/comm"
	"github.com/walkanth/sweptgo/internal/config"
	"github.com/walkanth/sweptgo/internal/ctxlog"
	"github.com/walkanth/sweptgo/internal/field"
	"github.com/walkanth/sweptgo/internal/kernel"
	"github.com/walkanth/sweptgo/internal/sink"
	"github.com/walkanth/sweptgo/internal/tensor"
)

// App encapsulates one solver run: its configuration, derived constants,
// and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	opts   *Options

	run *config.Run
	d   config.Derived

	snk sink.Sink
}

// New loads and validates the run configuration and prepares the app. A
// configuration that cannot produce a consistent swept cycle is rejected
// here, before any rank exists.
func New(outW io.Writer, opts *Options) (*App, error) {
	logger := newLogger(opts.LogLevel, opts.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	run, err := config.Load(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	d, err := run.Derive()
	if err != nil {
		return nil, err
	}
	k, err := kernel.New(run.Kernel)
	if err != nil {
		return nil, err
	}
	if k.Order() != run.TSO {
		return nil, fmt.Errorf("kernel %q integrates at order %d, run declares tso %d", run.Kernel, k.Order(), run.TSO)
	}
	logger.Debug("Run configuration derived.",
		"mpss", d.MPSS, "moss", d.MOSS, "gst", d.MGST, "outputSteps", d.OutputSteps)

	return &App{outW: outW, logger: logger, opts: opts, run: run, d: d}, nil
}

// Run spawns the world and executes the swept cycle on every rank. The
// sink is closed on every path so a file sink always carries a complete
// header.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	init, err := field.Generate(a.run)
	if err != nil {
		return err
	}

	snk, err := a.newSink()
	if err != nil {
		return err
	}
	a.snk = snk

	a.logger.Info("Starting swept run.",
		"nx", a.run.NX, "ny", a.run.NY, "kernel", a.run.Kernel,
		"ranks", a.opts.Ranks, "affinity", a.run.Affinity, "writes", a.d.Writes)

	runErr := comm.Spawn(ctx, a.opts.Ranks, a.rankMain(init))
	closeErr := snk.Close()
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing sink: %w", closeErr)
	}
	a.logger.Info("Run finished.", "outputSteps", a.d.OutputSteps, "output", a.run.Output)
	return nil
}

// Result returns the assembled output when the run used the in-memory
// sink. This is primarily for testing.
func (a *App) Result() (*tensor.Tensor, error) {
	m, ok := a.snk.(*sink.Memory)
	if !ok {
		return nil, errors.New("run did not use the memory sink")
	}
	return m.Result(), nil
}

func (a *App) newSink() (sink.Sink, error) {
	meta := sink.Meta{
		OutputSteps: a.d.OutputSteps,
		NV:          a.run.Variables,
		NX:          a.run.NX,
		NY:          a.run.NY,
		BS:          a.run.BlockSize,
		Affinity:    a.run.Affinity,
		T0:          a.run.T0,
		DT:          a.run.DT,
	}
	if a.run.Output == "" {
		return sink.NewMemory(meta), nil
	}
	return sink.NewFile(a.run.Output, meta)
}
