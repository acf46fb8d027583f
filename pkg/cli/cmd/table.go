package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/rzbill/aideploy/pkg/cli/format"
	"github.com/rzbill/aideploy/pkg/pipeline"
	"github.com/rzbill/aideploy/pkg/types"
)

// ResourceTable renders rows with a styled header.
type ResourceTable struct {
	Headers  []string
	MaxWidth int

	tableRenderer *pterm.TablePrinter
}

// NewResourceTable creates a new resource table with default configuration
func NewResourceTable(headers ...string) *ResourceTable {
	table := pterm.DefaultTable.WithHasHeader(true)
	headerStyle := pterm.NewStyle(pterm.FgCyan, pterm.Bold)
	table = table.WithHeaderStyle(headerStyle)

	if !format.IsColorEnabled() {
		pterm.DisableStyling()
	}

	return &ResourceTable{
		Headers:       headers,
		MaxWidth:      60,
		tableRenderer: table,
	}
}

// Render writes the header and rows to w.
func (t *ResourceTable) Render(w io.Writer, rows [][]string) error {
	data := make([][]string, 0, len(rows)+1)
	data = append(data, t.Headers)
	for _, row := range rows {
		out := make([]string, len(row))
		for i, cell := range row {
			out[i] = truncate(cell, t.MaxWidth)
		}
		data = append(data, out)
	}
	s, err := t.tableRenderer.WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}

// renderSteps prints the per-step summary of a run.
func renderSteps(w io.Writer, steps []pipeline.StepReport) error {
	if len(steps) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		status := format.StatusLabel(s.Status)
		if s.Status == pipeline.StatusFailed {
			status = fmt.Sprintf("%s (%s)", status, s.Kind)
		}
		attempts := ""
		if s.Attempts > 0 {
			attempts = strconv.Itoa(s.Attempts)
		}
		duration := ""
		if s.Duration > 0 {
			duration = s.Duration.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{s.Step, status, attempts, duration, s.Detail})
	}
	return NewResourceTable("STEP", "STATUS", "ATTEMPTS", "DURATION", "DETAIL").Render(w, rows)
}

// renderVersions prints secret versions, newest last, marking latest.
func renderVersions(w io.Writer, versions []types.SecretVersion) error {
	if len(versions) == 0 {
		fmt.Fprintln(w, "No versions found")
		return nil
	}
	rows := make([][]string, 0, len(versions))
	for i, v := range versions {
		marker := ""
		if i == len(versions)-1 {
			marker = types.LatestVersion
		}
		rows = append(rows, []string{v.ID, format.StatusLabel(string(v.State)), formatAge(v.CreatedAt), marker})
	}
	return NewResourceTable("VERSION", "STATE", "AGE", "").Render(w, rows)
}

// formatAge formats a time.Time as a human-readable age string
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}

	duration := time.Since(t)
	switch {
	case duration < time.Minute:
		return "Just now"
	case duration < time.Hour:
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh", int(duration.Hours()))
	case duration < 30*24*time.Hour:
		return fmt.Sprintf("%dd", int(duration.Hours()/24))
	case duration < 365*24*time.Hour:
		return fmt.Sprintf("%dmo", int(duration.Hours()/24/30))
	}
	return fmt.Sprintf("%dy", int(duration.Hours()/24/365))
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
