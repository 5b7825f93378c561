package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tonimelisma/coach-go/internal/reconcile"
)

// Terminal palette for execution states.
var (
	styleDone     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleMissed   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleExtra    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	stylePlanned  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleProposal = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// stateLabel renders an execution state for table output.
func stateLabel(s reconcile.ExecutionState) string {
	switch s {
	case reconcile.CompletedAsPlanned:
		return styleDone.Render("done")
	case reconcile.CompletedUnplanned:
		return styleExtra.Render("extra")
	case reconcile.Missed:
		return styleMissed.Render("missed")
	case reconcile.PlannedOnly:
		return stylePlanned.Render("planned")
	default:
		return string(s)
	}
}

// formatMinutes renders a duration given in minutes, e.g. "1h05".
func formatMinutes(m *float64) string {
	if m == nil {
		return "-"
	}

	total := int(*m + 0.5)
	if total < 60 {
		return fmt.Sprintf("%dm", total)
	}

	return fmt.Sprintf("%dh%02d", total/60, total%60)
}

// formatKm renders a distance in kilometres.
func formatKm(km *float64) string {
	if km == nil {
		return "-"
	}

	return fmt.Sprintf("%.1f km", *km)
}

// formatDelta renders a signed difference with its unit, or "" if absent.
func formatDelta(d *float64, unit string) string {
	if d == nil {
		return ""
	}

	return fmt.Sprintf("%+.1f%s", *d, unit)
}

// formatPercent renders a ratio in [0,1].
func formatPercent(r float64) string {
	return fmt.Sprintf("%.0f%%", r*100)
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time, now time.Time) string {
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer. Widths are
// measured on visible text so styled cells line up.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = styleHeader.Render(h)
	}

	printRow(w, styled, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		pad := 0
		if i < len(widths) {
			pad = max(widths[i]-lipgloss.Width(cell), 0)
		}

		parts[i] = cell + strings.Repeat(" ", pad)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
