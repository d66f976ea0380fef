package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"dealsignal/internal/runner"
)

func newTable(out io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func renderRuns(out io.Writer, results []runResult) {
	t := newTable(out, "Runs")
	t.AppendHeader(table.Row{"Schedule", "Result", "Duration", "Error"})
	for _, r := range results {
		result, msg := "ok", ""
		if r.Err != nil {
			result, msg = "failed", r.Err.Error()
		}
		t.AppendRow(table.Row{r.ScheduleID, result, r.Duration.Round(time.Millisecond), msg})
	}
	t.Render()
}

func renderSources(out io.Writer, r *runner.Runner) {
	t := newTable(out, "Sources")
	t.AppendHeader(table.Row{"Source", "Kind", "Connected", "Last check", "Last fetch", "Records", "Error"})
	fetches := r.Fetches()
	for _, a := range r.Sources().List() {
		row := table.Row{a.ID(), a.Kind(), "unknown", "-", "-", "-", ""}
		if st, ok := a.Status(); ok {
			row[2] = st.Connected
			row[3] = st.LastCheck.Format(time.RFC3339)
			row[6] = st.Error
		}
		if f, ok := fetches[a.ID()]; ok {
			row[4] = f.Endpoint
			row[5] = f.Records
			if f.Error != "" {
				row[6] = f.Error
			}
		}
		t.AppendRow(row)
	}
	t.Render()
}

func renderPipelines(out io.Writer, r *runner.Runner) {
	t := newTable(out, "Pipelines")
	t.AppendHeader(table.Row{"Job", "Source", "Status", "Processed", "Last run", "Error"})
	for _, j := range r.Jobs() {
		cfg := j.Config()
		st := j.Status()
		lastRun := "-"
		if st.LastRun != nil {
			lastRun = st.LastRun.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{cfg.ID, cfg.SourceID, st.Status, st.ProcessedRecords, lastRun, st.Error})
	}
	t.Render()
}
