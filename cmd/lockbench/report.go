package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"

	"blocklock/pkg/workload"
)

var (
	headingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7C79FF"}).
			Bold(true)
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"})
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
)

var reportHeader = []string{
	"Scenario", "Strategy", "Txns", "Attempts", "Commits", "Failed",
	"Aborts", "Avg", "P50", "P95", "P99", "Max", "Txn/s",
}

// formatDuration prints d with a unit suited to its magnitude, e.g. 1.23ms.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}

// formatAborts renders per-reason abort counts, e.g. "die=3 wounded=1".
func formatAborts(res workload.Result) string {
	reasons := res.AbortReasons()
	if len(reasons) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, res.Aborts[reason]))
	}
	return strings.Join(parts, " ")
}

func reportRow(res workload.Result) []string {
	return []string{
		res.Scenario,
		res.Strategy,
		fmt.Sprint(res.Transactions),
		fmt.Sprint(res.Attempts),
		fmt.Sprint(res.Commits),
		fmt.Sprint(res.Failures),
		formatAborts(res),
		formatDuration(res.AvgDuration),
		formatDuration(res.P50Duration),
		formatDuration(res.P95Duration),
		formatDuration(res.P99Duration),
		formatDuration(res.MaxDuration),
		fmt.Sprintf("%.0f", res.TxPerSecond),
	}
}

func printReport(w io.Writer, report workload.Report) {
	fmt.Fprintln(w, headingStyle.Render("lockbench results"))
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d run(s) in %s",
		len(report.Results), formatDuration(report.TotalDuration))))

	table := tablewriter.NewWriter(w)
	table.SetHeader(reportHeader)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, res := range report.Results {
		table.Append(reportRow(res))
	}
	table.Render()

	for _, res := range report.Results {
		if res.Failures == 0 || len(res.ErrorSamples) == 0 {
			continue
		}
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%s/%s: %d transaction(s) gave up",
			res.Scenario, res.Strategy, res.Failures)))
		for _, msg := range res.ErrorSamples {
			safe := strings.NewReplacer("\n", " ", "\r", " ").Replace(msg)
			fmt.Fprintf(w, "  %s\n", safe)
		}
	}
}

func saveJSONReport(report workload.Report, filename string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling report")
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return errors.Wrapf(err, "writing %s", filename)
	}
	return nil
}
