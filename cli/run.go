package cli

// This file contains the run action: classify the binary dir, resolve the
// catalog and run the tests.

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/perfgo/runtests/catalog"
	"github.com/perfgo/runtests/cli/gn"
	"github.com/perfgo/runtests/config"
	"github.com/perfgo/runtests/executor"
	"github.com/perfgo/runtests/history"
	"github.com/perfgo/runtests/metrics"
	"github.com/perfgo/runtests/model"
	"github.com/perfgo/runtests/runner"
	"github.com/perfgo/runtests/target"
	"github.com/urfave/cli/v2"
)

func (a *App) run(ctx *cli.Context) error {
	startTime := time.Now()

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return cli.Exit(err.Error(), ExitUsage)
	}

	if ctx.Bool("list-history") {
		return a.listHistory(cfg)
	}

	args := ctx.Args().Slice()
	if len(args) < 1 {
		return cli.Exit("no binary dir specified: usage: "+AppName+" <binary_dir> [test_name...]", ExitUsage)
	}
	binaryDir, err := filepath.Abs(args[0])
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid binary dir %s: %v", args[0], err), ExitUsage)
	}
	testNames := args[1:]

	// Generate random 16-byte ID
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return fmt.Errorf("failed to generate run ID: %w", err)
	}
	run := &model.Run{
		ID:        hex.EncodeToString(idBytes),
		Timestamp: startTime,
		Args:      a.args,
		BinaryDir: binaryDir,
	}
	if commit, branch, err := a.getGitInfo(cfg.SourceRoot); err == nil {
		run.Git = &model.Git{Commit: commit, Branch: branch}
	}

	tgt, err := target.New(a.logger, cfg).Classify(ctx.Context, binaryDir)
	if err != nil {
		if errors.Is(err, target.ErrDeviceSelection) {
			return cli.Exit(err.Error(), ExitDeviceSelection)
		}
		return cli.Exit(err.Error(), ExitUsage)
	}
	run.Target = &tgt
	a.logger.Info().
		Stringer("kind", tgt.Kind).
		Str("device", tgt.Identifier).
		Str("binary_dir", binaryDir).
		Msg("Classified binary dir")

	cfg.ApplyCompanionOutput(tgt.HostOS, binaryDir, os.LookupEnv)

	var extraArgs []string
	if cfg.GTestFilter != "" {
		extraArgs = append(extraArgs, "--gtest_filter="+cfg.GTestFilter)
	}

	ex, err := executor.New(tgt, executor.Options{
		Logger:    a.logger,
		Config:    cfg,
		BinaryDir: binaryDir,
		ExtraArgs: extraArgs,
		Stdout:    a.stdout,
		Stderr:    a.stderr,
	})
	if err != nil {
		return err
	}

	opts := []runner.Option{runner.WithOutput(a.stdout)}
	if tgt.Kind == model.TargetKindBridgeB {
		gnRunner, err := a.gnRunner(cfg, binaryDir)
		if err != nil {
			return cli.Exit(err.Error(), ExitUsage)
		}
		opts = append(opts, runner.WithRuntimeDeps(gnRunner))
	}
	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New(tgt)
		opts = append(opts, runner.WithRecorder(m))
	}

	r := runner.New(a.logger, tgt, binaryDir, ex, opts...)
	code, err := r.RunAll(ctx.Context, catalog.Resolve(tgt), testNames)
	if err != nil {
		if errors.Is(err, catalog.ErrUnrecognizedTest) {
			return cli.Exit(err.Error(), ExitUnrecognized)
		}
		return cli.Exit(err.Error(), ExitUsage)
	}

	runner.PrintSummary(a.stdout, tgt, r.Verdicts(), code)

	run.ExitCode = code
	run.Duration = time.Since(startTime)
	run.Verdicts = r.Verdicts()
	a.record(cfg, run, m)

	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

// gnRunner returns a gn runner for the binary dir, preferring the gn binary
// that generated it.
func (a *App) gnRunner(cfg *config.Config, binaryDir string) (*gn.Runner, error) {
	gnPath, err := gn.FindFromBinaryDir(binaryDir)
	if err != nil || gnPath == "" {
		gnPath = cfg.GN
	}
	if gnPath == "" {
		return nil, fmt.Errorf("no gn binary found for %s, set --gn", binaryDir)
	}
	return gn.New(a.logger, gnPath, cfg.SourceRoot), nil
}

// record writes the metrics textfile and the history record. Failures are
// logged, they do not change the result of the run.
func (a *App) record(cfg *config.Config, run *model.Run, m *metrics.Metrics) {
	if m != nil {
		m.RecordRun(run.ExitCode, run.Duration, time.Now())
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to write metrics")
		}
	}

	if cfg.HistoryDir != "" {
		if _, err := history.Record(a.logger, cfg.HistoryDir, run); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record history")
		}
	}
}
