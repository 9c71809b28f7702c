package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run_tests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source_root: /src/crashpad
monitor_timeout: 90s
adb: /opt/android/platform-tools/adb
env:
  GTEST_COLOR: "no"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/src/crashpad", cfg.SourceRoot)
	assert.Equal(t, 90*time.Second, cfg.MonitorTimeout)
	assert.Equal(t, "/opt/android/platform-tools/adb", cfg.ADB)
	assert.Equal(t, "no", cfg.Env["GTEST_COLOR"])
	// untouched defaults survive
	assert.Equal(t, DefaultFailureMarker, cfg.FailureMarker)
	assert.Equal(t, "python3", cfg.Python)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultMonitorTimeout, cfg.MonitorTimeout)
}

func TestLoadUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor_timout: 5s\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.SourceRoot = "/src"
	require.NoError(t, cfg.Validate())

	cfg.MonitorTimeout = -time.Second
	require.Error(t, cfg.Validate())
}

func TestApplyCompanionOutput(t *testing.T) {
	root := t.TempDir()
	dir32 := filepath.Join(root, "Debug")
	dir64 := filepath.Join(root, "Debug_x64")
	require.NoError(t, os.Mkdir(dir32, 0755))
	require.NoError(t, os.Mkdir(dir64, 0755))

	noEnv := func(string) (string, bool) { return "", false }

	t.Run("windows x64", func(t *testing.T) {
		cfg := Default()
		cfg.ApplyCompanionOutput("windows", dir64, noEnv)
		assert.Equal(t, dir32, cfg.Env[CompanionOutputEnv])
	})

	t.Run("not windows", func(t *testing.T) {
		cfg := Default()
		cfg.ApplyCompanionOutput("linux", dir64, noEnv)
		assert.NotContains(t, cfg.Env, CompanionOutputEnv)
	})

	t.Run("already in environment", func(t *testing.T) {
		cfg := Default()
		cfg.ApplyCompanionOutput("windows", dir64, func(k string) (string, bool) {
			return "C:\\elsewhere", k == CompanionOutputEnv
		})
		assert.NotContains(t, cfg.Env, CompanionOutputEnv)
	})

	t.Run("no 32-bit dir", func(t *testing.T) {
		cfg := Default()
		cfg.ApplyCompanionOutput("windows", filepath.Join(root, "Release_x64"), noEnv)
		assert.NotContains(t, cfg.Env, CompanionOutputEnv)
	})
}

func TestEnviron(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"A=1"}, cfg.Environ([]string{"A=1"}))

	cfg.Env["B"] = "2"
	cfg.Env["A"] = "3"
	assert.Equal(t, []string{"PATH=/bin", "A=3", "B=2"}, cfg.Environ([]string{"PATH=/bin", "A=1"}))
}
