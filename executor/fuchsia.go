package executor

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/perfgo/runtests/cli/fuchsia"
	"github.com/perfgo/runtests/cli/gn"
	"github.com/perfgo/runtests/model"
	"github.com/perfgo/runtests/monitor"
	"github.com/perfgo/runtests/staging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// LogRelay streams the device log.
type LogRelay interface {
	Output() io.Reader
	Stop() error
}

// FuchsiaBridge is a device whose only result channel is its log.
type FuchsiaBridge interface {
	staging.Bridge
	StartLogRelay(ctx context.Context) (LogRelay, error)
}

type fuchsiaClient struct {
	*fuchsia.Client
}

func (c fuchsiaClient) StartLogRelay(ctx context.Context) (LogRelay, error) {
	relay, err := c.Client.StartLogRelay(ctx)
	if err != nil {
		return nil, err
	}
	return relay, nil
}

// fuchsiaExecutor stages each test as a package and runs it in an isolated
// namespace. netruncmd does not report how the test ended, so the verdict is
// read from the device log.
type fuchsiaExecutor struct {
	logger  zerolog.Logger
	opts    Options
	bridge  FuchsiaBridge
	staging *staging.Manager
	newID   func() string
}

func newFuchsia(logger zerolog.Logger, opts Options, bridge FuchsiaBridge) *fuchsiaExecutor {
	layout := staging.FuchsiaLayout{
		BinaryDir:  opts.BinaryDir,
		SourceRoot: opts.Config.SourceRoot,
		RuntimeDeps: func(test string) ([]string, error) {
			return gn.ReadRuntimeDeps(opts.BinaryDir, test)
		},
	}
	return &fuchsiaExecutor{
		logger:  logger,
		opts:    opts,
		bridge:  bridge,
		staging: staging.NewManager(logger, bridge, layout),
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

// Terminator returns the line printed once the test binary has exited.
func Terminator(id string) string {
	return "TERMINATED: " + id
}

// Invocation returns the command running test inside a namespace built from
// the session's package and temp directories.
func Invocation(s *staging.Session, test model.TestSpec, extraArgs []string) []string {
	binary := path.Join("bin", test.Primary())
	command := []string{
		"namespace",
		"/pkg=" + s.PkgRoot,
		"/tmp=" + s.TempRoot,
		"/svc=/svc",
		"--replace-child-argv0=" + path.Join("/pkg", binary),
		"--",
		path.Join(s.PkgRoot, binary),
	}
	return append(command, extraArgs...)
}

func (e *fuchsiaExecutor) Run(ctx context.Context, test model.TestSpec) model.Verdict {
	if v, ok := skipIfMissing(e.opts.BinaryDir, test); ok {
		return v
	}

	// The relay has to be running before the test starts or early output is
	// lost.
	relay, err := e.bridge.StartLogRelay(ctx)
	if err != nil {
		return model.Fail(test.Name, err.Error(), 0)
	}
	defer func() {
		if err := relay.Stop(); err != nil {
			e.logger.Warn().Err(err).Str("test", test.Name).Msg("Failed to stop log relay")
		}
	}()

	var verdict model.Verdict
	err = e.staging.With(ctx, test, func(ctx context.Context, s *staging.Session) error {
		verdict = e.invoke(ctx, s, test, relay)
		return nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("test", test.Name).Msg("Failed to stage test")
		return model.Fail(test.Name, err.Error(), 0)
	}
	return verdict
}

func (e *fuchsiaExecutor) invoke(ctx context.Context, s *staging.Session, test model.TestSpec, relay LogRelay) model.Verdict {
	cfg := e.opts.Config
	terminator := Terminator(e.newID())
	m := monitor.New(test.Name, terminator,
		monitor.WithTimeout(cfg.MonitorTimeout),
		monitor.WithFailureMarker(cfg.FailureMarker),
		monitor.WithClock(e.opts.Clock),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return e.bridge.Run(gctx,
			Invocation(s, test, e.opts.ExtraArgs),
			[]string{"echo", terminator},
		)
	})

	verdict := m.Wait(gctx, relay.Output(), e.opts.Stdout)

	// The group context only ends on its own when the invocation failed.
	invocationFailed := gctx.Err() != nil && runCtx.Err() == nil
	cancel()
	runErr := g.Wait()

	if verdict.Failed() && invocationFailed {
		return model.Fail(test.Name, fmt.Sprintf("remote invocation failed: %v", runErr), 0)
	}
	return verdict
}
