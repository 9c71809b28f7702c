// Package config holds the settings shared by every run_tests component.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables and command-line flags (applied by the cli package).
// The resulting Config is passed explicitly to the components that need it;
// nothing here mutates the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// CompanionOutputEnv tells 64-bit Windows tests where the 32-bit build
	// output lives for cross-bitness tests.
	CompanionOutputEnv = "CRASHPAD_TEST_32_BIT_OUTPUT"
	// AndroidDeviceEnv selects the adb device when several are attached.
	AndroidDeviceEnv = "ANDROID_DEVICE"
	// FuchsiaNodeEnv selects the Fuchsia node when several are reachable.
	FuchsiaNodeEnv = "ZIRCON_NODENAME"
	// FuchsiaSDKEnv overrides the location of the Fuchsia SDK.
	FuchsiaSDKEnv = "FUCHSIA_SDK_ROOT"

	DefaultMonitorTimeout = 10 * time.Minute
	DefaultFailureMarker  = "FAILED TEST"
)

// Config contains the settings of one run.
type Config struct {
	// Root of the source checkout. Data dependencies are relative to it.
	SourceRoot string `yaml:"source_root"`
	// Fuchsia SDK root. Defaults to third_party/fuchsia/sdk/<host> in the checkout.
	FuchsiaSDKRoot string `yaml:"fuchsia_sdk_root"`
	// Path of the adb binary.
	ADB string `yaml:"adb"`
	// Path of the gn binary, used when build.ninja does not name one.
	GN string `yaml:"gn"`
	// Interpreter for script tests.
	Python string `yaml:"python"`
	// Upper bound for waiting on the log relay terminator. Zero disables it.
	MonitorTimeout time.Duration `yaml:"monitor_timeout"`
	// Substring in the device log that marks a failed test.
	FailureMarker string `yaml:"failure_marker"`
	// Explicit device selection, skipping auto-detection.
	AndroidDevice string `yaml:"android_device"`
	FuchsiaNode   string `yaml:"fuchsia_node"`
	// Passed to every gtest binary as --gtest_filter.
	GTestFilter string `yaml:"gtest_filter"`
	// Prometheus textfile written after the run.
	MetricsFile string `yaml:"metrics_file"`
	// Directory receiving a JSON record of every run.
	HistoryDir string `yaml:"history_dir"`
	// Extra environment for host test processes.
	Env map[string]string `yaml:"env"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ADB:            "adb",
		Python:         "python3",
		MonitorTimeout: DefaultMonitorTimeout,
		FailureMarker:  DefaultFailureMarker,
		Env:            map[string]string{},
	}
}

// Load reads a YAML file on top of the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.SourceRoot == "" {
		return errors.New("source root is not set")
	}
	if c.MonitorTimeout < 0 {
		return fmt.Errorf("monitor timeout must not be negative, got %s", c.MonitorTimeout)
	}
	if c.FailureMarker == "" {
		return errors.New("failure marker must not be empty")
	}
	return nil
}

// SDKRoot returns the configured Fuchsia SDK root, or the SDK bundled with the
// source checkout for the current host.
func (c *Config) SDKRoot() string {
	if c.FuchsiaSDKRoot != "" {
		return c.FuchsiaSDKRoot
	}
	arch := "linux-amd64"
	if runtime.GOOS == "darwin" {
		arch = "mac-amd64"
	}
	return filepath.Join(c.SourceRoot, "third_party", "fuchsia", "sdk", arch)
}

// ApplyCompanionOutput points 64-bit Windows tests at the 32-bit build output
// living next to binaryDir. The 64-bit build directory conventionally carries
// an _x64 suffix that the 32-bit one lacks. An explicit setting in the
// environment or the config wins.
func (c *Config) ApplyCompanionOutput(hostOS, binaryDir string, lookupEnv func(string) (string, bool)) {
	if hostOS != "windows" || !strings.HasSuffix(binaryDir, "_x64") {
		return
	}
	if _, ok := c.Env[CompanionOutputEnv]; ok {
		return
	}
	if _, ok := lookupEnv(CompanionOutputEnv); ok {
		return
	}
	dir32 := strings.TrimSuffix(binaryDir, "_x64")
	if info, err := os.Stat(dir32); err == nil && info.IsDir() {
		c.Env[CompanionOutputEnv] = dir32
	}
}

// Environ returns base extended with the configured environment, in a stable
// order. Entries in Env override entries in base.
func (c *Config) Environ(base []string) []string {
	if len(c.Env) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(c.Env))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := c.Env[k]; ok {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}
