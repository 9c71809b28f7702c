// Package fuchsia drives a Fuchsia device through the SDK's network tools:
// netls to find devices, netruncmd to run commands, netcp to copy files and
// loglistener to relay the device log. None of them report the exit status of
// a remote command; results have to be read from the log.
package fuchsia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

// Client runs SDK tools against one device.
type Client struct {
	logger  zerolog.Logger
	sdkRoot string
	node    string
}

// New creates a client for the device with the given node name.
func New(logger zerolog.Logger, sdkRoot, node string) *Client {
	return &Client{
		logger:  logger,
		sdkRoot: sdkRoot,
		node:    node,
	}
}

// Node returns the node name of the device this client talks to.
func (c *Client) Node() string {
	return c.node
}

// Tool returns the path of an SDK tool.
func Tool(sdkRoot, name string) string {
	return filepath.Join(sdkRoot, "tools", name)
}

// Nodes lists reachable devices using `netls --nowait`.
func Nodes(ctx context.Context, sdkRoot string) ([]string, error) {
	cmd := exec.CommandContext(ctx, Tool(sdkRoot, "netls"), "--nowait")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("netls failed: %w (stderr: %s)", err, stderr.String())
	}
	return ParseNodes(stdout.String()), nil
}

// ParseNodes extracts node names from netls output, which prints one
// `device <nodename> (<address>)` line per device.
func ParseNodes(output string) []string {
	var nodes []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		nodes = append(nodes, fields[1])
	}
	return nodes
}

// JoinCommands escapes every argument and chains the commands with ";" so
// they run in order in one netruncmd invocation.
func JoinCommands(commands ...[]string) string {
	quoted := make([]string, 0, len(commands))
	for _, command := range commands {
		quoted = append(quoted, shellescape.QuoteCommand(command))
	}
	return strings.Join(quoted, " ; ")
}

// Run executes commands on the device with netruncmd. A nil error only means
// the commands were sent; their outcome shows up in the device log.
func (c *Client) Run(ctx context.Context, commands ...[]string) error {
	final := JoinCommands(commands...)
	cmd := exec.CommandContext(ctx, Tool(c.sdkRoot, "netruncmd"), c.node, final)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("node", c.node).
		Str("command", final).
		Msg("Running remote command")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("netruncmd failed: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// Copy copies a single local file to remotePath on the device with netcp.
func (c *Client) Copy(ctx context.Context, localPath, remotePath string) error {
	target := c.node + ":" + remotePath
	cmd := exec.CommandContext(ctx, Tool(c.sdkRoot, "netcp"), localPath, target)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("local", localPath).
		Str("remote", target).
		Msg("Copying to device")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to copy %s: %w (stderr: %s)", localPath, err, stderr.String())
	}
	return nil
}

// LogRelay is a running loglistener process.
type LogRelay struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	stopOnce sync.Once
	stopErr  error
}

// StartLogRelay starts loglistener for the device. The relay must be running
// before the test is started so that no output is missed.
func (c *Client) StartLogRelay(ctx context.Context) (*LogRelay, error) {
	cmd := exec.CommandContext(ctx, Tool(c.sdkRoot, "loglistener"), c.node)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start loglistener: %w", err)
	}

	c.logger.Debug().
		Str("node", c.node).
		Int("pid", cmd.Process.Pid).
		Msg("Log relay started")

	return &LogRelay{cmd: cmd, stdout: stdout}, nil
}

// Output returns the relayed device log.
func (r *LogRelay) Output() io.Reader {
	return r.stdout
}

// Stop kills the relay and reaps it. It is safe to call more than once.
func (r *LogRelay) Stop() error {
	r.stopOnce.Do(func() {
		if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.stopErr = err
		}
		// The relay never exits on its own, so the kill is what ends it.
		_ = r.cmd.Wait()
	})
	return r.stopErr
}
