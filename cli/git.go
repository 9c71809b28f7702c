package cli

import (
	"fmt"
	"os/exec"
	"strings"
)

// gitRevParse runs `git rev-parse args...` in dir and returns its trimmed
// output.
func gitRevParse(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"rev-parse"}, args...)...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// getGitInfo returns the commit and branch of the source checkout at dir, so
// a recorded run can be matched to the code that built its tests.
func (a *App) getGitInfo(dir string) (commit, branch string, err error) {
	commit, err = gitRevParse(dir, "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("source root %s is not a git checkout: %w", dir, err)
	}
	branch, err = gitRevParse(dir, "--abbrev-ref", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve branch of %s: %w", dir, err)
	}
	return commit, branch, nil
}
