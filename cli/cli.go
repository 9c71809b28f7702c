package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/perfgo/runtests/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "run_tests"

// Exit codes that are not the exit code of a failing test.
const (
	ExitUsage           = 1
	ExitDeviceSelection = 2
	ExitUnrecognized    = 3
)

type App struct {
	logger zerolog.Logger
	cli    *cli.App
	stdout io.Writer
	stderr io.Writer
	args   []string
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	app.cli = &cli.App{
		Name:      AppName,
		Usage:     "Run the test binaries of a build output directory on the host or an attached device",
		ArgsUsage: "<binary_dir> [test_name...]",
		Description: `Runs every test binary built into <binary_dir>, or only the named tests.

The target is derived from the build configuration: Android builds run on the
device attached via adb, Fuchsia builds on the device reachable with the
Fuchsia SDK tools, everything else on this machine.

Exit status is 0 when every test passed, 1 on usage errors, 2 when no single
device could be selected, 3 for unknown test names and otherwise the exit
status of the first failing test.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML file with default settings",
			},
			&cli.StringFlag{
				Name:  "source-root",
				Usage: "Root of the source checkout (default: git toplevel of the working directory)",
			},
			&cli.StringFlag{
				Name:  "gtest_filter",
				Usage: "Passed to every test binary as --gtest_filter",
			},
			&cli.DurationFlag{
				Name:  "monitor-timeout",
				Usage: "Give up on a Fuchsia test whose log never reports completion (0 waits forever)",
				Value: config.DefaultMonitorTimeout,
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write Prometheus metrics of the run to this textfile",
			},
			&cli.StringFlag{
				Name:  "history-dir",
				Usage: "Record every run as JSON below this directory",
			},
			&cli.BoolFlag{
				Name:  "list-history",
				Usage: "List the runs recorded in --history-dir and exit",
			},
			&cli.StringFlag{
				Name:    "android-device",
				Usage:   "Serial of the adb device to use",
				EnvVars: []string{config.AndroidDeviceEnv},
			},
			&cli.StringFlag{
				Name:    "fuchsia-node",
				Usage:   "Node name of the Fuchsia device to use",
				EnvVars: []string{config.FuchsiaNodeEnv},
			},
			&cli.StringFlag{
				Name:    "fuchsia-sdk-root",
				Usage:   "Fuchsia SDK providing netls, netruncmd, netcp and loglistener",
				EnvVars: []string{config.FuchsiaSDKEnv},
			},
			&cli.StringFlag{
				Name:  "adb",
				Usage: "adb binary",
			},
			&cli.StringFlag{
				Name:  "gn",
				Usage: "gn binary, used when build.ninja does not name one",
			},
			&cli.StringFlag{
				Name:  "python",
				Usage: "Interpreter for script tests",
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
		Action: app.run,
		// Exit codes are mapped by ExitCode so that Run returns to the caller.
		ExitErrHandler: func(*cli.Context, error) {},
	}
	return app
}

// Run runs the application and returns an error carrying the exit code, see
// ExitCode.
func (a *App) Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.args = args
	return a.cli.RunContext(ctx, args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		if len(commit) > 8 {
			commit = commit[:8]
		}
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	}
}

// ExitCode returns the process exit code for an error returned by Run.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		return exitCoder.ExitCode()
	}
	return ExitUsage
}

// loadConfig layers the config file, environment and flags.
func (a *App) loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}

	setString := func(flag string, dst *string) {
		if ctx.IsSet(flag) {
			*dst = ctx.String(flag)
		}
	}
	setString("source-root", &cfg.SourceRoot)
	setString("gtest_filter", &cfg.GTestFilter)
	setString("metrics-file", &cfg.MetricsFile)
	setString("history-dir", &cfg.HistoryDir)
	setString("android-device", &cfg.AndroidDevice)
	setString("fuchsia-node", &cfg.FuchsiaNode)
	setString("fuchsia-sdk-root", &cfg.FuchsiaSDKRoot)
	setString("adb", &cfg.ADB)
	setString("gn", &cfg.GN)
	setString("python", &cfg.Python)
	if ctx.IsSet("monitor-timeout") {
		cfg.MonitorTimeout = ctx.Duration("monitor-timeout")
	}

	if cfg.SourceRoot == "" {
		cfg.SourceRoot = a.defaultSourceRoot()
	}
	if abs, err := filepath.Abs(cfg.SourceRoot); err == nil {
		cfg.SourceRoot = abs
	}
	return cfg, cfg.Validate()
}

// defaultSourceRoot returns the git toplevel of the working directory, or the
// working directory itself outside a checkout.
func (a *App) defaultSourceRoot() string {
	root, err := gitRevParse("", "--show-toplevel")
	if err == nil {
		return root
	}
	a.logger.Debug().Err(err).Msg("Not in a git repository, using working directory as source root")
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}
