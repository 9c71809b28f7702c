// Package runner runs the resolved tests in order and aggregates their
// verdicts into the exit code of the run.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"code.cloudfoundry.org/clock"
	"github.com/perfgo/runtests/catalog"
	"github.com/perfgo/runtests/executor"
	"github.com/perfgo/runtests/model"
	"github.com/rs/zerolog"
)

const bannerWidth = 80

// RuntimeDepsGenerator writes the runtime deps manifests of tests.
type RuntimeDepsGenerator interface {
	GenerateRuntimeDeps(ctx context.Context, binaryDir string, tests []string) error
}

// Recorder receives every verdict as soon as it is known.
type Recorder interface {
	RecordVerdict(v model.Verdict)
}

// Runner runs tests on one target.
type Runner struct {
	logger    zerolog.Logger
	target    model.Target
	binaryDir string
	executor  executor.Executor

	deps     RuntimeDepsGenerator
	recorder Recorder
	stdout   io.Writer
	clock    clock.Clock

	verdicts []model.Verdict
}

// Option is a function that configures a Runner.
type Option func(*Runner)

// WithRuntimeDeps sets the generator used for targets that stage runtime deps.
func WithRuntimeDeps(g RuntimeDepsGenerator) Option {
	return func(r *Runner) {
		r.deps = g
	}
}

// WithRecorder sets a recorder notified of every verdict.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithOutput sets where banners and the summary are printed.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.stdout = w
	}
}

// WithClock sets the clock used to time tests.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

func New(logger zerolog.Logger, target model.Target, binaryDir string, exec executor.Executor, opts ...Option) *Runner {
	r := &Runner{
		logger:    logger,
		target:    target,
		binaryDir: binaryDir,
		executor:  exec,
		stdout:    os.Stdout,
		clock:     clock.NewClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Verdicts returns the verdicts of the last RunAll, in execution order.
func (r *Runner) Verdicts() []model.Verdict {
	return r.verdicts
}

// RunAll runs the tests named in filter, or all specs when filter is empty,
// and returns the exit code of the run. An error is returned only when the
// run could not start, in which case no test was executed.
func (r *Runner) RunAll(ctx context.Context, specs []model.TestSpec, filter []string) (int, error) {
	r.verdicts = nil

	selected, err := catalog.Select(specs, filter)
	if err != nil {
		return 0, err
	}

	if r.target.Kind == model.TargetKindBridgeB {
		if r.deps == nil {
			return 0, fmt.Errorf("no runtime deps generator for %s target", r.target.Kind)
		}
		if binaries := catalog.Binaries(selected); len(binaries) > 0 {
			if err := r.deps.GenerateRuntimeDeps(ctx, r.binaryDir, binaries); err != nil {
				return 0, fmt.Errorf("failed to generate runtime deps: %w", err)
			}
		}
	}

	for _, test := range selected {
		Banner(r.stdout, test.Name)

		start := r.clock.Now()
		v := r.executor.Run(ctx, test)
		v.Duration = r.clock.Since(start)
		r.verdicts = append(r.verdicts, v)

		logEvent := r.logger.Info()
		if v.Failed() {
			logEvent = r.logger.Error()
		}
		logEvent.
			Str("test", v.Test).
			Stringer("outcome", v.Outcome).
			Str("detail", v.Detail).
			Dur("duration", v.Duration).
			Msg("Test finished")

		if r.recorder != nil {
			r.recorder.RecordVerdict(v)
		}
	}
	return ExitCode(r.verdicts), nil
}

// ExitCode aggregates verdicts: 0 when nothing failed, otherwise the exit code
// of the first failing test, or 1 when it did not report a positive one.
func ExitCode(verdicts []model.Verdict) int {
	for _, v := range verdicts {
		if !v.Failed() {
			continue
		}
		if v.ExitCode > 0 {
			return v.ExitCode
		}
		return 1
	}
	return 0
}

// Banner prints the header separating the output of consecutive tests.
func Banner(w io.Writer, name string) {
	line := strings.Repeat("-", bannerWidth)
	fmt.Fprintf(w, "%s\n%s\n%s\n", line, name, line)
}
