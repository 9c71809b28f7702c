package model

import (
	"fmt"
	"time"
)

// Outcome is the final result of a single test.
type Outcome uint8

const (
	OutcomePass Outcome = iota
	OutcomeFail
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pass":
		*o = OutcomePass
	case "fail":
		*o = OutcomeFail
	case "skipped":
		*o = OutcomeSkipped
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// Verdict is produced once per test.
type Verdict struct {
	Test    string  `json:"test"`
	Outcome Outcome `json:"outcome"`
	// Why the test failed or was skipped.
	Detail string `json:"detail,omitempty"`
	// Exit code of the test process when one was observed.
	ExitCode int           `json:"exit_code,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Pass returns a passing verdict for test.
func Pass(test string) Verdict {
	return Verdict{Test: test, Outcome: OutcomePass}
}

// Fail returns a failing verdict for test.
func Fail(test, detail string, exitCode int) Verdict {
	return Verdict{Test: test, Outcome: OutcomeFail, Detail: detail, ExitCode: exitCode}
}

// Skip returns a skipped verdict for test.
func Skip(test, detail string) Verdict {
	return Verdict{Test: test, Outcome: OutcomeSkipped, Detail: detail}
}

// Failed reports whether the verdict counts against the run.
func (v Verdict) Failed() bool {
	return v.Outcome == OutcomeFail
}
