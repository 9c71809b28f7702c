// Package executor runs a single test on a target and turns the outcome into
// a verdict.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/clock"
	"github.com/perfgo/runtests/cli/adb"
	"github.com/perfgo/runtests/cli/fuchsia"
	"github.com/perfgo/runtests/config"
	"github.com/perfgo/runtests/model"
	"github.com/rs/zerolog"
)

// Executor runs tests on one target. Run never returns an error: every
// failure, including failures to reach the device, becomes a failing verdict.
type Executor interface {
	Run(ctx context.Context, test model.TestSpec) model.Verdict
}

// Options are shared by all executors.
type Options struct {
	Logger    zerolog.Logger
	Config    *config.Config
	BinaryDir string
	// Arguments appended to every test binary invocation.
	ExtraArgs []string
	// Test output. Defaults to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Bridges to use instead of the SDK tools. Used by tests.
	Android AndroidBridge
	Fuchsia FuchsiaBridge
	// Clock for the completion monitor's timeout.
	Clock clock.Clock
}

// New returns the executor for the target's kind.
func New(target model.Target, opts Options) (Executor, error) {
	if opts.Config == nil {
		return nil, errors.New("executor: missing config")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	logger := opts.Logger.With().Str("target", target.Kind.String()).Logger()

	switch target.Kind {
	case model.TargetKindHost:
		return newHost(logger, opts), nil
	case model.TargetKindBridgeA:
		bridge := opts.Android
		if bridge == nil {
			bridge = adb.New(logger, target.Identifier,
				adb.WithBinary(opts.Config.ADB),
				adb.WithOutput(opts.Stdout),
				adb.WithErrorOutput(opts.Stderr),
			)
		}
		return newAndroid(logger, opts, bridge), nil
	case model.TargetKindBridgeB:
		bridge := opts.Fuchsia
		if bridge == nil {
			bridge = fuchsiaClient{fuchsia.New(logger, target.SDKRoot, target.Identifier)}
		}
		return newFuchsia(logger, opts, bridge), nil
	}
	return nil, fmt.Errorf("executor: unsupported target kind %d", target.Kind)
}

// skipIfMissing returns a skip verdict when an optional test was not built.
func skipIfMissing(binaryDir string, test model.TestSpec) (model.Verdict, bool) {
	if !test.OptionalIfMissing {
		return model.Verdict{}, false
	}
	_, err := os.Stat(filepath.Join(binaryDir, test.Primary()))
	if !errors.Is(err, os.ErrNotExist) {
		return model.Verdict{}, false
	}
	return model.Skip(test.Name, "not built for this target"), true
}

func exitDetail(code int) string {
	return fmt.Sprintf("exit status %d", code)
}
