// Package gn queries the GN build graph generator that produced a binary
// directory.
package gn

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// TargetsFile is written into the binary dir to request runtime deps files.
const TargetsFile = "targets.txt"

var targetOSRe = regexp.MustCompile(`^target_os = "(.*)"$`)

// FindFromBinaryDir returns the gn binary used to generate binaryDir, taken
// from the regeneration rule GN always writes into build.ninja:
//
//	rule gn
//	  command = ../../buildtools/linux64/gn --root=../.. -q gen .
//
// An empty string is returned when build.ninja is missing or has no such rule.
func FindFromBinaryDir(binaryDir string) (string, error) {
	f, err := os.Open(filepath.Join(binaryDir, "build.ninja"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open build.ninja: %w", err)
	}
	defer f.Close()

	foundRule := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "rule gn" {
			foundRule = true
			continue
		}
		if !foundRule {
			continue
		}
		// The rule body is indented; anything else ends it.
		if line == "" || line[0] != ' ' {
			return "", nil
		}
		if strings.HasPrefix(line, "  command = ") {
			parts := strings.Split(strings.TrimSpace(line), " ")
			if len(parts) > 2 {
				if filepath.IsAbs(parts[2]) {
					return parts[2], nil
				}
				return filepath.Join(binaryDir, parts[2]), nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read build.ninja: %w", err)
	}
	return "", nil
}

// ParseTargetOS extracts the value from `gn args --list=target_os --short`
// output. It returns "" when the output does not carry a value.
func ParseTargetOS(output string) string {
	m := targetOSRe.FindStringSubmatch(strings.TrimSpace(output))
	if m == nil {
		return ""
	}
	return m[1]
}

// Runner invokes one gn binary against one source root.
type Runner struct {
	logger     zerolog.Logger
	path       string
	sourceRoot string
}

// New creates a Runner for the gn binary at path.
func New(logger zerolog.Logger, path, sourceRoot string) *Runner {
	return &Runner{
		logger:     logger,
		path:       path,
		sourceRoot: sourceRoot,
	}
}

// Path returns the gn binary this runner invokes.
func (r *Runner) Path() string {
	return r.path
}

// TargetOS returns the target_os build argument of binaryDir, or "" when
// the build does not set one.
func (r *Runner) TargetOS(ctx context.Context, binaryDir string) (string, error) {
	out, err := r.run(ctx, "args", binaryDir, "--list=target_os", "--short")
	if err != nil {
		return "", err
	}
	return ParseTargetOS(out), nil
}

// GenerateRuntimeDeps makes gn write <binaryDir>/<test>.runtime_deps for each
// of tests.
func (r *Runner) GenerateRuntimeDeps(ctx context.Context, binaryDir string, tests []string) error {
	var buf strings.Builder
	for _, test := range tests {
		fmt.Fprintf(&buf, "//:%s\n", test)
	}
	targetsFile := filepath.Join(binaryDir, TargetsFile)
	if err := os.WriteFile(targetsFile, []byte(buf.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", TargetsFile, err)
	}

	r.logger.Debug().Strs("tests", tests).Str("targets", targetsFile).Msg("Generating runtime deps")

	if _, err := r.run(ctx, "gen", binaryDir, "--runtime-deps-list-file="+targetsFile); err != nil {
		return err
	}
	// Generate again so that --runtime-deps-list-file does not stick in the
	// regeneration rule.
	_, err := r.run(ctx, "gen", binaryDir)
	return err
}

func (r *Runner) run(ctx context.Context, args ...string) (string, error) {
	args = append([]string{"--root=" + r.sourceRoot}, args...)
	cmd := exec.CommandContext(ctx, r.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().Str("command", cmd.String()).Msg("Executing gn")

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if lines := strings.Split(errMsg, "\n"); lines[0] != "" {
			return "", fmt.Errorf("gn %s failed: %w (%s)", args[1], err, lines[0])
		}
		return "", fmt.Errorf("gn %s failed: %w", args[1], err)
	}
	return stdout.String(), nil
}

// RuntimeDepsPath returns the runtime deps file gn writes for test.
func RuntimeDepsPath(binaryDir, test string) string {
	return filepath.Join(binaryDir, test+".runtime_deps")
}

// ReadRuntimeDeps returns the runtime dependencies of test, relative to
// binaryDir, in the order gn listed them.
func ReadRuntimeDeps(binaryDir, test string) ([]string, error) {
	data, err := os.ReadFile(RuntimeDepsPath(binaryDir, test))
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime deps of %s: %w", test, err)
	}

	var deps []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			deps = append(deps, line)
		}
	}
	return deps, nil
}
