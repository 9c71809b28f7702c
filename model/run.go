package model

import "time"

// Run represents a single run_tests invocation.
type Run struct {
	// Unique ID for this run (16 random bytes, hex encoded)
	ID string `json:"id"`
	// Timestamp when the run started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Build output directory the tests were taken from
	BinaryDir string `json:"binary_dir"`
	// Exit code of the run
	ExitCode int `json:"exit_code"`
	// Duration of the run
	Duration time.Duration `json:"duration"`
	// Git information of the source checkout
	Git *Git `json:"git,omitempty"`
	// Target the tests ran on
	Target *Target `json:"target,omitempty"`
	// One verdict per executed test, in execution order
	Verdicts []Verdict `json:"verdicts,omitempty"`
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
}

// Counts returns the number of passed, failed and skipped verdicts.
func (r *Run) Counts() (passed, failed, skipped int) {
	for _, v := range r.Verdicts {
		switch v.Outcome {
		case OutcomePass:
			passed++
		case OutcomeFail:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return passed, failed, skipped
}
