// Package history records every run as a JSON document and loads previous
// runs back.
package history

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/perfgo/runtests/model"
	"github.com/rs/zerolog"
)

// FileName is the name of the record inside each run directory.
const FileName = "history.json"

type Entry struct {
	Run      model.Run
	FullPath string
}

// RunDirName returns the directory name of a run:
// <timestamp>-<short commit>-<short id>, or <timestamp>-<short id> outside a
// git checkout.
func RunDirName(run *model.Run) string {
	timestamp := run.Timestamp.UTC().Format("20060102-150405")
	shortID := run.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	if run.Git == nil || run.Git.Commit == "" {
		return fmt.Sprintf("%s-%s", timestamp, shortID)
	}
	shortCommit := run.Git.Commit
	if len(shortCommit) > 8 {
		shortCommit = shortCommit[:8]
	}
	return fmt.Sprintf("%s-%s-%s", timestamp, shortCommit, shortID)
}

// Record writes run below root and returns the run directory.
func Record(logger zerolog.Logger, root string, run *model.Run) (string, error) {
	runDir := filepath.Join(root, RunDirName(run))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, FileName), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write run record: %w", err)
	}

	logger.Debug().Str("dir", runDir).Str("id", run.ID).Msg("Recorded run")
	return runDir, nil
}

// LoadEntries loads all runs below root, newest first. Records that cannot be
// parsed are skipped with a warning.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != FileName {
			return nil
		}

		run, err := parseHistoryJSON(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to parse " + FileName)
			return nil
		}
		entries = append(entries, Entry{
			Run:      run,
			FullPath: filepath.Dir(path),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk history directory: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Run.Timestamp.After(entries[j].Run.Timestamp)
	})
	return entries, nil
}

func parseHistoryJSON(path string) (model.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Run{}, err
	}

	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return model.Run{}, err
	}
	return run, nil
}
