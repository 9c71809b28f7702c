package cli

// This file contains the listing of previous runs recorded in the history
// directory.

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/perfgo/runtests/config"
	"github.com/perfgo/runtests/history"
	"github.com/urfave/cli/v2"
)

const listLimit = 20

func (a *App) listHistory(cfg *config.Config) error {
	if cfg.HistoryDir == "" {
		return cli.Exit("--list-history requires --history-dir", ExitUsage)
	}

	entries, err := history.LoadEntries(a.logger, cfg.HistoryDir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(entries) == 0) {
		fmt.Fprintln(a.stdout, "No runs found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(a.stdout)
	t.SetTitle(fmt.Sprintf("Runs (%d total)", len(entries)))
	t.AppendHeader(table.Row{"ID", "Time", "Target", "Commit", "Passed", "Failed", "Skipped", "Exit", "Path"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
	})

	if len(entries) > listLimit {
		entries = entries[:listLimit]
	}
	for _, entry := range entries {
		run := entry.Run
		passed, failed, skipped := run.Counts()

		shortID := run.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		targetName := ""
		if run.Target != nil {
			targetName = strings.TrimSpace(run.Target.Kind.String() + " " + run.Target.Identifier)
		}
		commit := ""
		if run.Git != nil {
			commit = run.Git.Commit
			if len(commit) > 8 {
				commit = commit[:8]
			}
			if run.Git.Branch != "" {
				commit += " (" + run.Git.Branch + ")"
			}
		}

		t.AppendRow(table.Row{
			shortID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			targetName,
			commit,
			passed,
			failed,
			skipped,
			run.ExitCode,
			entry.FullPath,
		})
	}
	t.Render()
	return nil
}
