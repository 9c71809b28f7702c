// Package monitor decides the result of a test that can only be observed
// through a relayed device log.
package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/perfgo/runtests/model"
)

// State is the state of a Monitor.
type State uint8

const (
	// Listening means the terminator has not been seen yet.
	Listening State = iota
	// Terminated means the test finished. Feeding more lines has no effect.
	Terminated
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

const (
	DetailTimeout     = "timeout"
	DetailRelayClosed = "log relay closed before terminator"
	DetailFailed      = "failure reported in log"
	DetailLineTooLong = "log line too long"
)

// MaxLineSize is the longest log line Wait accepts.
const MaxLineSize = 1024 * 1024

// Lines echoing the command that prints the terminator contain the
// terminator as well and must not end the test.
const echoCommand = "echo "

// Monitor watches log lines for a test's failure marker and terminator.
type Monitor struct {
	test          string
	terminator    string
	failureMarker string
	timeout       time.Duration
	clock         clock.Clock

	state  State
	failed bool
}

// Option is a function that configures a Monitor.
type Option func(*Monitor)

// WithTimeout bounds how long Wait listens. A zero or negative timeout waits
// until the log relay ends.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.timeout = d
	}
}

// WithClock sets the clock used for the timeout.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithFailureMarker overrides the text that marks a failed test.
func WithFailureMarker(marker string) Option {
	return func(m *Monitor) {
		m.failureMarker = marker
	}
}

// New creates a monitor for test that terminates on the first line
// containing terminator.
func New(test, terminator string, opts ...Option) *Monitor {
	m := &Monitor{
		test:          test,
		terminator:    terminator,
		failureMarker: "FAILED TEST",
		clock:         clock.NewClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Monitor) State() State {
	return m.state
}

// Feed advances the monitor by one log line.
func (m *Monitor) Feed(line string) State {
	if m.state == Terminated {
		return m.state
	}
	if strings.Contains(line, m.failureMarker) {
		m.failed = true
	}
	if strings.Contains(line, m.terminator) && !strings.Contains(line, echoCommand) {
		m.state = Terminated
	}
	return m.state
}

// Verdict returns the verdict for the lines fed so far. It is a failure
// unless the monitor terminated without seeing the failure marker.
func (m *Monitor) Verdict() model.Verdict {
	switch {
	case m.failed:
		return model.Fail(m.test, DetailFailed, 0)
	case m.state != Terminated:
		return model.Fail(m.test, DetailRelayClosed, 0)
	}
	return model.Pass(m.test)
}

// Wait feeds lines read from r into the monitor until it terminates, r ends,
// the timeout expires or ctx is done. Every line except the terminating one
// is copied to out. A line longer than MaxLineSize ends the wait with a
// failure.
//
// The goroutine reading r exits once r returns an error, so callers have to
// close the source of r when Wait returns early.
func (m *Monitor) Wait(ctx context.Context, r io.Reader, out io.Writer) model.Verdict {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var deadline <-chan time.Time
	if m.timeout > 0 {
		timer := m.clock.NewTimer(m.timeout)
		defer timer.Stop()
		deadline = timer.C()
	}

	for {
		select {
		case line := <-lines:
			if m.Feed(line) == Terminated {
				return m.Verdict()
			}
			fmt.Fprintln(out, line)
		case err := <-readErr:
			if errors.Is(err, bufio.ErrTooLong) {
				return model.Fail(m.test, fmt.Sprintf("%s: exceeds %d bytes", DetailLineTooLong, MaxLineSize), 0)
			}
			if err != nil {
				return model.Fail(m.test, fmt.Sprintf("%s: %v", DetailRelayClosed, err), 0)
			}
			return model.Fail(m.test, DetailRelayClosed, 0)
		case <-deadline:
			return model.Fail(m.test, DetailTimeout, 0)
		case <-ctx.Done():
			return model.Fail(m.test, ctx.Err().Error(), 0)
		}
	}
}
