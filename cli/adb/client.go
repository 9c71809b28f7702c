// Package adb drives an Android device through the adb tool. It pushes files,
// runs shell commands with an injected environment and recovers the exit
// status of remote commands, which older adb versions do not propagate.
package adb

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

// ErrStatusNotReported is returned when the remote shell output ended without
// the status line appended to every command.
var ErrStatusNotReported = errors.New("remote exit status not reported")

// maxLineSize is the longest line of remote output FilterStatus accepts.
const maxLineSize = 1024 * 1024

var (
	statusLineRe = regexp.MustCompile(`^status=(\d+)$`)
	daemonLineRe = regexp.MustCompile(`^\* daemon .+ \*$`)
)

// Client runs adb commands against one device.
type Client struct {
	logger zerolog.Logger
	adb    string
	serial string
	stdout io.Writer
	stderr io.Writer
}

// Option is a function that configures an adb client.
type Option func(*Client)

// WithBinary sets the adb binary to invoke.
func WithBinary(path string) Option {
	return func(c *Client) {
		c.adb = path
	}
}

// WithOutput sets where remote shell output is echoed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Client) {
		c.stdout = w
	}
}

// WithErrorOutput sets where adb stderr is echoed. Defaults to os.Stderr.
func WithErrorOutput(w io.Writer) Option {
	return func(c *Client) {
		c.stderr = w
	}
}

// New creates a client for the device with the given serial.
func New(logger zerolog.Logger, serial string, opts ...Option) *Client {
	c := &Client{
		logger: logger,
		adb:    "adb",
		serial: serial,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Serial returns the serial of the device this client talks to.
func (c *Client) Serial() string {
	return c.serial
}

// Devices lists the serials of attached devices using `adb devices`.
func Devices(ctx context.Context, adbPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, adbPath, "devices")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("adb devices failed: %w (stderr: %s)", err, stderr.String())
	}
	return ParseDevices(stdout.String()), nil
}

// ParseDevices extracts device serials from `adb devices` output.
func ParseDevices(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || line == "List of devices attached" || daemonLineRe.MatchString(line) {
			continue
		}
		serial, _, _ := strings.Cut(line, "\t")
		devices = append(devices, strings.TrimSpace(serial))
	}
	return devices
}

// Push copies a local file or directory to the device. Directories are
// copied recursively by adb itself.
func (c *Client) Push(ctx context.Context, localPath, remotePath string) error {
	cmd := exec.CommandContext(ctx, c.adb, "-s", c.serial, "push", localPath, remotePath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("Pushing to device")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to push %s: %w (stderr: %s)", localPath, err, stderr.String())
	}
	return nil
}

// Copy implements the staging bridge contract.
func (c *Client) Copy(ctx context.Context, localPath, remotePath string) error {
	return c.Push(ctx, localPath, remotePath)
}

// Run executes commands on the device in one `adb shell` invocation, stopping
// at the first failing command. It implements the staging bridge contract.
func (c *Client) Run(ctx context.Context, commands ...[]string) error {
	status, err := c.Shell(ctx, nil, commands...)
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("remote command failed with exit status %d", status)
	}
	return nil
}

// ShellScript builds the script run through `sh -c` on the device. Neither
// /system/bin/env nor exit status propagation by adb shell can be relied on
// before Android 7.0, so the environment is exported by the script and the
// exit status is printed as the last line of output.
func ShellScript(env map[string]string, commands ...[]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("export %s=%s", shellescape.Quote(k), shellescape.Quote(env[k])))
	}

	quoted := make([]string, 0, len(commands))
	for _, command := range commands {
		quoted = append(quoted, shellescape.QuoteCommand(command))
	}
	parts = append(parts,
		strings.Join(quoted, " && "),
		"status=${?}",
		`echo "status=${status}"`,
		"exit ${status}",
	)
	return strings.Join(parts, "; ")
}

// Shell runs commands on the device with env exported, echoing their output
// live, and returns the exit status reported by the device.
func (c *Client) Shell(ctx context.Context, env map[string]string, commands ...[]string) (int, error) {
	script := ShellScript(env, commands...)
	cmd := exec.CommandContext(ctx, c.adb, "-s", c.serial, "shell", "sh -c "+shellescape.Quote(script))

	var stderr bytes.Buffer
	cmd.Stderr = io.MultiWriter(c.stderr, &stderr)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("failed to create pipe: %w", err)
	}

	c.logger.Debug().
		Str("serial", c.serial).
		Str("script", script).
		Msg("Running remote command")

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start adb shell: %w", err)
	}

	status, statusErr := FilterStatus(stdout, c.stdout)

	waitErr := cmd.Wait()
	if statusErr == nil {
		// Newer adb versions exit with the remote status themselves.
		var exitErr *exec.ExitError
		if waitErr == nil || (errors.As(waitErr, &exitErr) && exitErr.ExitCode() == status) {
			return status, nil
		}
	}
	if waitErr != nil {
		return 0, fmt.Errorf("adb shell failed: %w (stderr: %s)", waitErr, stderr.String())
	}
	return 0, statusErr
}

// FilterStatus copies r to w line by line, withholding the final status=N
// line and returning N. A status-looking line that is followed by more output
// was not the final one and is passed through. Lines longer than 1 MiB end
// the copy with an error wrapping bufio.ErrTooLong.
func FilterStatus(r io.Reader, w io.Writer) (int, error) {
	var final *string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if final != nil {
			fmt.Fprintln(w, *final)
			final = nil
		}
		if statusLineRe.MatchString(strings.TrimRight(line, "\r")) {
			final = &line
			continue
		}
		fmt.Fprintln(w, line)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return 0, fmt.Errorf("remote output line exceeds %d bytes: %w", maxLineSize, err)
		}
		return 0, fmt.Errorf("failed to read remote output: %w", err)
	}
	if final == nil {
		// Output of old adb versions interleaves stderr after stdout and can
		// swallow the status line.
		return 0, ErrStatusNotReported
	}

	m := statusLineRe.FindStringSubmatch(strings.TrimRight(*final, "\r"))
	status, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid status line %q: %w", *final, err)
	}
	return status, nil
}
