package runner

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/perfgo/runtests/model"
)

// PrintSummary renders a table with one row per verdict.
func PrintSummary(w io.Writer, target model.Target, verdicts []model.Verdict, exitCode int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Test Results (%s)", describeTarget(target)))
	t.AppendHeader(table.Row{"Test", "Result", "Duration", "Exit Code", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Exit Code", Align: text.AlignRight},
		{Name: "Detail", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	var passed, failed, skipped int
	var total time.Duration
	for _, v := range verdicts {
		switch v.Outcome {
		case model.OutcomePass:
			passed++
		case model.OutcomeFail:
			failed++
		case model.OutcomeSkipped:
			skipped++
		}
		total += v.Duration

		exit := ""
		if v.Failed() && v.ExitCode != 0 {
			exit = fmt.Sprint(v.ExitCode)
		}
		t.AppendRow(table.Row{v.Test, resultString(v.Outcome), formatDuration(v.Duration), exit, v.Detail})
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped),
		formatDuration(total),
		exitCode,
		"",
	})
	t.Render()
}

func describeTarget(target model.Target) string {
	if target.Identifier == "" {
		return target.Kind.String()
	}
	return target.Kind.String() + " " + target.Identifier
}

func resultString(o model.Outcome) string {
	switch o {
	case model.OutcomePass:
		return "PASS"
	case model.OutcomeFail:
		return "FAIL"
	case model.OutcomeSkipped:
		return "SKIP"
	}
	return "UNKNOWN"
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
