package executor

import (
	"context"
	"errors"
	"path"

	"github.com/perfgo/runtests/cli/adb"
	"github.com/perfgo/runtests/model"
	"github.com/perfgo/runtests/staging"
	"github.com/rs/zerolog"
)

const (
	// TestDataRootEnv tells the tests where their data dependencies are.
	TestDataRootEnv = "CRASHPAD_TEST_DATA_ROOT"
	libraryPathEnv  = "LD_LIBRARY_PATH"
)

// AndroidBridge is a device reached through a remote shell that reports exit
// statuses.
type AndroidBridge interface {
	staging.Bridge
	Shell(ctx context.Context, env map[string]string, commands ...[]string) (int, error)
}

// androidExecutor stages each test into its own directory and runs it
// through the remote shell.
type androidExecutor struct {
	logger  zerolog.Logger
	opts    Options
	bridge  AndroidBridge
	layout  staging.AndroidLayout
	staging *staging.Manager
}

func newAndroid(logger zerolog.Logger, opts Options, bridge AndroidBridge) *androidExecutor {
	layout := staging.AndroidLayout{
		BinaryDir:  opts.BinaryDir,
		SourceRoot: opts.Config.SourceRoot,
	}
	return &androidExecutor{
		logger:  logger,
		opts:    opts,
		bridge:  bridge,
		layout:  layout,
		staging: staging.NewManager(logger, bridge, layout),
	}
}

func (e *androidExecutor) Run(ctx context.Context, test model.TestSpec) model.Verdict {
	if v, ok := skipIfMissing(e.opts.BinaryDir, test); ok {
		return v
	}

	var verdict model.Verdict
	err := e.staging.With(ctx, test, func(ctx context.Context, s *staging.Session) error {
		out := e.layout.OutDir(s.Root)
		env := map[string]string{
			TestDataRootEnv: s.Root,
			libraryPathEnv:  out,
		}
		command := append([]string{path.Join(out, test.Primary())}, e.opts.ExtraArgs...)

		status, err := e.bridge.Shell(ctx, env, command)
		switch {
		case errors.Is(err, adb.ErrStatusNotReported):
			verdict = model.Fail(test.Name, "exit status not reported", 0)
		case err != nil:
			verdict = model.Fail(test.Name, err.Error(), 0)
		case status != 0:
			verdict = model.Fail(test.Name, exitDetail(status), status)
		default:
			verdict = model.Pass(test.Name)
		}
		return nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("test", test.Name).Msg("Failed to stage test")
		return model.Fail(test.Name, err.Error(), 0)
	}
	return verdict
}
