package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/perfgo/runtests/model"
	"github.com/rs/zerolog"
)

// hostExecutor runs tests as local processes.
type hostExecutor struct {
	logger zerolog.Logger
	opts   Options
}

func newHost(logger zerolog.Logger, opts Options) *hostExecutor {
	return &hostExecutor{logger: logger, opts: opts}
}

func (e *hostExecutor) command(ctx context.Context, test model.TestSpec) *exec.Cmd {
	cfg := e.opts.Config
	if test.Script {
		return exec.CommandContext(ctx, cfg.Python, filepath.Join(cfg.SourceRoot, test.Primary()), e.opts.BinaryDir)
	}
	return exec.CommandContext(ctx, filepath.Join(e.opts.BinaryDir, test.Primary()), e.opts.ExtraArgs...)
}

func (e *hostExecutor) Run(ctx context.Context, test model.TestSpec) model.Verdict {
	if v, ok := skipIfMissing(e.opts.BinaryDir, test); ok {
		return v
	}

	cmd := e.command(ctx, test)
	cmd.Env = e.opts.Config.Environ(os.Environ())
	cmd.Stdout = e.opts.Stdout
	cmd.Stderr = e.opts.Stderr

	e.logger.Debug().
		Str("test", test.Name).
		Strs("args", cmd.Args).
		Msg("Running test")

	err := cmd.Run()
	if err == nil {
		return model.Pass(test.Name)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return model.Fail(test.Name, exitDetail(exitErr.ExitCode()), exitErr.ExitCode())
	}
	return model.Fail(test.Name, "failed to start: "+err.Error(), 0)
}
