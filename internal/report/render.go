// Package report renders derived repository statistics for humans and
// machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/gdfm-dev/gdfm/internal/metrics"
)

// RenderJSON writes the report as indented JSON.
func RenderJSON(w io.Writer, report metrics.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// RenderText writes the report as aligned plain-text tables.
func RenderText(w io.Writer, report metrics.Report) error {
	fmt.Fprintf(w, "Repository: %s\n", report.Repository)
	if len(report.Maintainers) > 0 {
		fmt.Fprintf(w, "Maintainers: %v\n", report.Maintainers)
	}
	fmt.Fprintf(w, "Generated: %s\n\n", report.GeneratedAt.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "REVIEW LATENCY BY ASSOCIATION")
	fmt.Fprintln(tw, "association\trounds\treviewed\tmedian\tp90\tmax")
	for _, row := range report.ReviewLatency {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
			row.Association, row.Rounds, row.Reviewed.Count,
			formatDuration(row.Reviewed.Median), formatDuration(row.Reviewed.P90), formatDuration(row.Reviewed.Max))
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "MERGE TIME BY CHANGE SIZE")
	fmt.Fprintln(tw, "tier\tmerged\tmedian\tp90\tmax")
	for _, row := range report.MergeTimeBySize {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			row.Tier, row.Merged.Count,
			formatDuration(row.Merged.Median), formatDuration(row.Merged.P90), formatDuration(row.Merged.Max))
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "ISSUE RESOLUTION")
	fmt.Fprintln(tw, "closer\tclosed\tmedian\tp90")
	fmt.Fprintf(tw, "human\t%d\t%s\t%s\n",
		report.Issues.HumanClosed.Count,
		formatDuration(report.Issues.HumanClosed.Median), formatDuration(report.Issues.HumanClosed.P90))
	fmt.Fprintf(tw, "automation\t%d\t%s\t%s\n",
		report.Issues.AutomationClosed.Count,
		formatDuration(report.Issues.AutomationClosed.Median), formatDuration(report.Issues.AutomationClosed.P90))
	fmt.Fprintf(tw, "unknown\t%d\t-\t-\n", report.Issues.UnknownCloser)
	fmt.Fprintf(tw, "open\t%d\t-\t-\n", report.Issues.Open)
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Active contributors: %d\n", report.ActiveContributors)

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

// formatDuration rounds to the most useful unit for human scan; raw
// nanosecond strings are unreadable at review-latency scale.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	case d >= time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	case d >= time.Minute:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return d.Round(time.Second).String()
	}
}
