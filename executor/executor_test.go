package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/perfgo/runtests/cli/adb"
	"github.com/perfgo/runtests/config"
	"github.com/perfgo/runtests/model"
	"github.com/perfgo/runtests/monitor"
	"github.com/perfgo/runtests/staging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeExecutable(t *testing.T, p, script string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+script), 0o755))
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.SourceRoot = t.TempDir()
	return cfg
}

func binaryTest(name string) model.TestSpec {
	return model.TestSpec{
		Name:      name,
		Artifacts: []string{name},
		DataDeps:  []string{"test/test_paths_test_data_root.txt"},
		Platforms: model.AllKinds,
	}
}

// recorder tracks every call made through a bridge.
type recorder struct {
	mu     sync.Mutex
	runs   [][]string
	copies []staging.Upload
}

func (r *recorder) recordRun(commands [][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, commands...)
}

func (r *recorder) Copy(_ context.Context, localPath, remotePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.copies = append(r.copies, staging.Upload{Local: localPath, Remote: remotePath})
	return nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs) + len(r.copies)
}

func (r *recorder) commands(name string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, c := range r.runs {
		if c[0] == name {
			out = append(out, c)
		}
	}
	return out
}

type fakeAndroid struct {
	recorder
	status   int
	shellErr error
	env      map[string]string
	shell    [][]string
}

func (f *fakeAndroid) Run(_ context.Context, commands ...[]string) error {
	f.recordRun(commands)
	return nil
}

func (f *fakeAndroid) Shell(_ context.Context, env map[string]string, commands ...[]string) (int, error) {
	f.env = env
	f.shell = commands
	return f.status, f.shellErr
}

type pipeRelay struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeRelay() *pipeRelay {
	r, w := io.Pipe()
	return &pipeRelay{r: r, w: w}
}

func (p *pipeRelay) Output() io.Reader {
	return p.r
}

func (p *pipeRelay) Stop() error {
	return p.w.Close()
}

type fakeFuchsia struct {
	recorder
	relay   *pipeRelay
	stopped bool
	// Writes the device log for an invocation.
	onInvoke func(log io.Writer, terminator string) error
}

func (f *fakeFuchsia) StartLogRelay(context.Context) (LogRelay, error) {
	f.relay = newPipeRelay()
	return stopRecorder{f}, nil
}

type stopRecorder struct {
	f *fakeFuchsia
}

func (s stopRecorder) Output() io.Reader { return s.f.relay.Output() }

func (s stopRecorder) Stop() error {
	s.f.stopped = true
	return s.f.relay.Stop()
}

func (f *fakeFuchsia) Run(_ context.Context, commands ...[]string) error {
	f.recordRun(commands)
	if commands[0][0] != "namespace" || f.onInvoke == nil {
		return nil
	}
	echo := commands[len(commands)-1]
	return f.onInvoke(f.relay.w, echo[1])
}

func TestNewUnsupportedKind(t *testing.T) {
	_, err := New(model.Target{Kind: model.TargetKind(42)}, Options{Config: config.Default()})
	require.Error(t, err)

	_, err = New(model.Target{Kind: model.TargetKindHost}, Options{})
	require.Error(t, err)
}

func TestHost(t *testing.T) {
	cfg := testConfig(t)
	bin := t.TempDir()
	writeExecutable(t, filepath.Join(bin, "passes"), `echo "args: $*"`)
	writeExecutable(t, filepath.Join(bin, "fails"), "echo broken >&2\nexit 3\n")
	writeExecutable(t, filepath.Join(bin, "env"), `echo "$CRASHPAD_TEST_32_BIT_OUTPUT"`)

	var stdout, stderr bytes.Buffer
	e, err := New(model.Target{Kind: model.TargetKindHost, HostOS: "linux"}, Options{
		Logger:    zerolog.Nop(),
		Config:    cfg,
		BinaryDir: bin,
		ExtraArgs: []string{"--gtest_filter=A.*"},
		Stdout:    &stdout,
		Stderr:    &stderr,
	})
	require.NoError(t, err)

	t.Run("pass", func(t *testing.T) {
		stdout.Reset()
		assert.Equal(t, model.Pass("passes"), e.Run(context.Background(), binaryTest("passes")))
		assert.Equal(t, "args: --gtest_filter=A.*\n", stdout.String())
	})

	t.Run("exit code", func(t *testing.T) {
		v := e.Run(context.Background(), binaryTest("fails"))
		assert.Equal(t, model.Fail("fails", "exit status 3", 3), v)
		assert.Contains(t, stderr.String(), "broken")
	})

	t.Run("missing binary fails", func(t *testing.T) {
		v := e.Run(context.Background(), binaryTest("missing"))
		assert.Equal(t, model.OutcomeFail, v.Outcome)
		assert.Contains(t, v.Detail, "failed to start")
	})

	t.Run("missing optional binary skips", func(t *testing.T) {
		test := binaryTest("missing")
		test.OptionalIfMissing = true
		assert.Equal(t, model.OutcomeSkipped, e.Run(context.Background(), test).Outcome)
	})

	t.Run("explicit environment", func(t *testing.T) {
		stdout.Reset()
		cfg.Env[config.CompanionOutputEnv] = "/out/Debug"
		defer delete(cfg.Env, config.CompanionOutputEnv)

		assert.Equal(t, model.Pass("env"), e.Run(context.Background(), binaryTest("env")))
		assert.Equal(t, "/out/Debug\n", stdout.String())
		_, set := os.LookupEnv(config.CompanionOutputEnv)
		assert.False(t, set, "process environment must not be modified")
	})
}

func TestHostScript(t *testing.T) {
	cfg := testConfig(t)
	cfg.Python = "/bin/sh"
	bin := t.TempDir()

	script := "snapshot/win/end_to_end_test.py"
	writeExecutable(t, filepath.Join(cfg.SourceRoot, script), `echo "binary dir: $1"; exit 5`)

	var stdout bytes.Buffer
	e, err := New(model.Target{Kind: model.TargetKindHost, HostOS: "windows"}, Options{
		Logger:    zerolog.Nop(),
		Config:    cfg,
		BinaryDir: bin,
		ExtraArgs: []string{"--gtest_filter=ignored"},
		Stdout:    &stdout,
		Stderr:    io.Discard,
	})
	require.NoError(t, err)

	v := e.Run(context.Background(), model.TestSpec{Name: script, Artifacts: []string{script}, Script: true})
	assert.Equal(t, model.Fail(script, "exit status 5", 5), v)
	assert.Equal(t, "binary dir: "+bin+"\n", stdout.String())
}

func TestHostNeverStages(t *testing.T) {
	bin := t.TempDir()
	writeExecutable(t, filepath.Join(bin, "t"), "exit 0")

	android := &fakeAndroid{}
	fuchsia := &fakeFuchsia{}
	e, err := New(model.Target{Kind: model.TargetKindHost}, Options{
		Logger:    zerolog.Nop(),
		Config:    testConfig(t),
		BinaryDir: bin,
		Stdout:    io.Discard,
		Stderr:    io.Discard,
		Android:   android,
		Fuchsia:   fuchsia,
	})
	require.NoError(t, err)

	assert.Equal(t, model.Pass("t"), e.Run(context.Background(), binaryTest("t")))
	assert.Zero(t, android.calls())
	assert.Zero(t, fuchsia.calls())
	assert.Nil(t, fuchsia.relay)
}

func newAndroidExecutor(t *testing.T, bridge *fakeAndroid, bin string) Executor {
	t.Helper()
	e, err := New(model.Target{Kind: model.TargetKindBridgeA, Identifier: "emulator-5554"}, Options{
		Logger:    zerolog.Nop(),
		Config:    testConfig(t),
		BinaryDir: bin,
		ExtraArgs: []string{"--gtest_filter=A.*"},
		Android:   bridge,
	})
	require.NoError(t, err)
	return e
}

func TestAndroid(t *testing.T) {
	bin := t.TempDir()
	writeExecutable(t, filepath.Join(bin, "crashpad_test_test"), "")

	t.Run("pass", func(t *testing.T) {
		bridge := &fakeAndroid{}
		v := newAndroidExecutor(t, bridge, bin).Run(context.Background(), binaryTest("crashpad_test_test"))
		assert.Equal(t, model.Pass("crashpad_test_test"), v)

		require.Len(t, bridge.commands("rm"), 1)
		root := bridge.commands("rm")[0][2]
		assert.True(t, strings.HasPrefix(root, "/data/local/tmp/crashpad_test_test."), root)

		assert.Equal(t, map[string]string{
			"CRASHPAD_TEST_DATA_ROOT": root,
			"LD_LIBRARY_PATH":         root + "/out",
		}, bridge.env)
		assert.Equal(t, [][]string{{root + "/out/crashpad_test_test", "--gtest_filter=A.*"}}, bridge.shell)
	})

	t.Run("nonzero status", func(t *testing.T) {
		bridge := &fakeAndroid{status: 7}
		v := newAndroidExecutor(t, bridge, bin).Run(context.Background(), binaryTest("crashpad_test_test"))
		assert.Equal(t, model.Fail("crashpad_test_test", "exit status 7", 7), v)
		assert.Len(t, bridge.commands("rm"), 1)
	})

	t.Run("status not reported", func(t *testing.T) {
		bridge := &fakeAndroid{shellErr: adb.ErrStatusNotReported}
		v := newAndroidExecutor(t, bridge, bin).Run(context.Background(), binaryTest("crashpad_test_test"))
		assert.Equal(t, model.Fail("crashpad_test_test", "exit status not reported", 0), v)
	})

	t.Run("optional missing makes no remote calls", func(t *testing.T) {
		bridge := &fakeAndroid{}
		test := binaryTest("crashpad_client_test")
		test.OptionalIfMissing = true
		v := newAndroidExecutor(t, bridge, bin).Run(context.Background(), test)
		assert.Equal(t, model.OutcomeSkipped, v.Outcome)
		assert.Zero(t, bridge.calls())
		assert.Nil(t, bridge.shell)
	})
}

type failingCopy struct {
	fakeAndroid
}

func (f *failingCopy) Copy(context.Context, string, string) error {
	return errors.New("device offline")
}

func TestAndroidStagingFailure(t *testing.T) {
	bin := t.TempDir()
	bridge := &failingCopy{}
	e, err := New(model.Target{Kind: model.TargetKindBridgeA}, Options{
		Logger:    zerolog.Nop(),
		Config:    testConfig(t),
		BinaryDir: bin,
		Android:   bridge,
	})
	require.NoError(t, err)

	v := e.Run(context.Background(), binaryTest("crashpad_test_test"))
	assert.Equal(t, model.OutcomeFail, v.Outcome)
	assert.Contains(t, v.Detail, "device offline")
	assert.Nil(t, bridge.shell, "test must not run after staging failed")
	assert.Len(t, bridge.commands("rm"), 1)
}

type fuchsiaFixture struct {
	bin    string
	cfg    *config.Config
	bridge *fakeFuchsia
	clock  *fakeclock.FakeClock
	stdout bytes.Buffer
}

func newFuchsiaFixture(t *testing.T) *fuchsiaFixture {
	f := &fuchsiaFixture{
		cfg:    testConfig(t),
		bridge: &fakeFuchsia{},
		clock:  fakeclock.NewFakeClock(time.Unix(0, 0)),
	}
	f.bin = filepath.Join(f.cfg.SourceRoot, "out", "fuchsia")
	writeExecutable(t, filepath.Join(f.bin, "crashpad_test_test"), "")
	require.NoError(t, os.WriteFile(
		filepath.Join(f.bin, "crashpad_test_test.runtime_deps"),
		[]byte("./crashpad_test_test\n../../test/test_paths_test_data_root.txt\n"),
		0o644,
	))
	require.NoError(t, os.MkdirAll(filepath.Join(f.cfg.SourceRoot, "test"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.SourceRoot, "test", "test_paths_test_data_root.txt"), nil, 0o644))
	return f
}

func (f *fuchsiaFixture) executor(t *testing.T) Executor {
	t.Helper()
	e, err := New(model.Target{Kind: model.TargetKindBridgeB, Identifier: "node", SDKRoot: "/sdk"}, Options{
		Logger:    zerolog.Nop(),
		Config:    f.cfg,
		BinaryDir: f.bin,
		ExtraArgs: []string{"--gtest_filter=A.*"},
		Stdout:    &f.stdout,
		Fuchsia:   f.bridge,
		Clock:     f.clock,
	})
	require.NoError(t, err)
	return e
}

func writeLog(w io.Writer, lines ...string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func TestFuchsia(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFuchsiaFixture(t)
	f.bridge.onInvoke = func(log io.Writer, terminator string) error {
		return writeLog(log, "[ RUN      ] A.B", "[       OK ] A.B", terminator)
	}

	v := f.executor(t).Run(context.Background(), binaryTest("crashpad_test_test"))
	assert.Equal(t, model.Pass("crashpad_test_test"), v)
	assert.Equal(t, "[ RUN      ] A.B\n[       OK ] A.B\n", f.stdout.String())
	assert.True(t, f.bridge.stopped, "log relay not stopped")

	rm := f.bridge.commands("rm")
	require.Len(t, rm, 1)
	root := rm[0][2]
	assert.True(t, strings.HasPrefix(root, "/tmp/crashpad_test_test_"), root)

	assert.Equal(t, [][]string{{
		"namespace",
		"/pkg=" + root + "/pkg",
		"/tmp=" + root + "/tmp",
		"/svc=/svc",
		"--replace-child-argv0=/pkg/bin/crashpad_test_test",
		"--",
		root + "/pkg/bin/crashpad_test_test",
		"--gtest_filter=A.*",
	}}, f.bridge.commands("namespace"))

	echo := f.bridge.commands("echo")
	require.Len(t, echo, 1)
	assert.Regexp(t, `^TERMINATED: [0-9a-f]{32}$`, echo[0][1])

	assert.ElementsMatch(t, []string{
		root + "/pkg/bin/crashpad_test_test",
		root + "/pkg/assets/test/test_paths_test_data_root.txt",
	}, remotes(f.bridge.copies))
}

func remotes(uploads []staging.Upload) []string {
	var out []string
	for _, u := range uploads {
		out = append(out, u.Remote)
	}
	return out
}

func TestFuchsiaFailureMarker(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFuchsiaFixture(t)
	f.bridge.onInvoke = func(log io.Writer, terminator string) error {
		return writeLog(log, "[  FAILED  ] A.B", " 1 FAILED TEST", terminator)
	}

	v := f.executor(t).Run(context.Background(), binaryTest("crashpad_test_test"))
	assert.Equal(t, model.Fail("crashpad_test_test", monitor.DetailFailed, 0), v)
	assert.Len(t, f.bridge.commands("rm"), 1)
}

func TestFuchsiaTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFuchsiaFixture(t)
	f.cfg.MonitorTimeout = time.Minute
	f.bridge.onInvoke = func(log io.Writer, _ string) error {
		return writeLog(log, "[ RUN      ] A.B")
	}

	e := f.executor(t)
	result := make(chan model.Verdict, 1)
	go func() {
		result <- e.Run(context.Background(), binaryTest("crashpad_test_test"))
	}()
	f.clock.WaitForWatcherAndIncrement(time.Minute)

	v := <-result
	assert.Equal(t, model.Fail("crashpad_test_test", monitor.DetailTimeout, 0), v)
	assert.True(t, f.bridge.stopped)
	assert.Len(t, f.bridge.commands("rm"), 1)
}

func TestFuchsiaInvocationFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFuchsiaFixture(t)
	f.bridge.onInvoke = func(io.Writer, string) error {
		return errors.New("netruncmd: no route to host")
	}

	v := f.executor(t).Run(context.Background(), binaryTest("crashpad_test_test"))
	assert.Equal(t, model.OutcomeFail, v.Outcome)
	assert.Contains(t, v.Detail, "no route to host")
	assert.Len(t, f.bridge.commands("rm"), 1)
}

func TestFuchsiaMissingRuntimeDeps(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFuchsiaFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.bin, "crashpad_test_test.runtime_deps")))

	v := f.executor(t).Run(context.Background(), binaryTest("crashpad_test_test"))
	assert.Equal(t, model.OutcomeFail, v.Outcome)
	assert.Contains(t, v.Detail, "runtime deps")
	assert.True(t, f.bridge.stopped)
	assert.Empty(t, f.bridge.commands("namespace"))
}

func TestFuchsiaOptionalMissing(t *testing.T) {
	f := newFuchsiaFixture(t)
	test := binaryTest("crashpad_client_test")
	test.OptionalIfMissing = true

	v := f.executor(t).Run(context.Background(), test)
	assert.Equal(t, model.OutcomeSkipped, v.Outcome)
	assert.Nil(t, f.bridge.relay, "log relay started for a skipped test")
	assert.Zero(t, f.bridge.calls())
}
