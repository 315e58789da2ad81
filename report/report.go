// Package report renders prefetch session statistics as text tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"smart-prefetch/models"
)

var reasonOrder = []models.Reason{
	models.ReasonNextSlide,
	models.ReasonNavigation,
	models.ReasonUpcomingView,
	models.ReasonUserPreference,
}

// Summary writes one session's counters.
func Summary(w io.Writer, title string, stats models.SessionStats) {
	fmt.Fprintf(w, "\n📈 %s\n", title)
	fmt.Fprintln(w, strings.Repeat("=", len(title)+3))

	fmt.Fprintf(w, "%-20s %-15d\n", "Issued", stats.Issued)
	fmt.Fprintf(w, "%-20s %-15d\n", "Done", stats.Done)
	fmt.Fprintf(w, "%-20s %-15d\n", "Failed", stats.Failed)
	fmt.Fprintf(w, "%-20s %-15d\n", "Retried", stats.Retried)
	fmt.Fprintf(w, "%-20s %-15d\n", "Soft Timeouts", stats.TimedOut)
	fmt.Fprintf(w, "%-20s %-15d\n", "In Flight", stats.InFlight)
	fmt.Fprintf(w, "%-20s %-15d\n", "Pending", stats.Pending)
	fmt.Fprintf(w, "%-20s %-15s\n", "Avg Load Time", formatDuration(stats.AvgLoadTime))
	fmt.Fprintf(w, "%-20s %-15s\n", "Duration", stats.Duration.Round(time.Second))

	fmt.Fprintln(w, "\n🎯 By Reason")
	fmt.Fprintln(w, "============")
	for _, r := range reasons(stats.ByReason) {
		fmt.Fprintf(w, "%-25s %d\n", r, stats.ByReason[r])
	}

	fmt.Fprintln(w, "\n⚡ By Priority")
	fmt.Fprintln(w, "==============")
	for _, p := range []models.Priority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow} {
		fmt.Fprintf(w, "%-25s %d\n", p, stats.ByPriority[p])
	}

	fmt.Fprintf(w, "\nSuccess Rate: %s\n", successRate(stats))
}

// Compare writes two sessions side by side with the relative change of the
// second against the first.
func Compare(w io.Writer, baselineLabel, candidateLabel string, baseline, candidate models.SessionStats) {
	fmt.Fprintln(w, "\n📈 Session Comparison")
	fmt.Fprintln(w, "=====================")

	fmt.Fprintf(w, "%-20s %-15s %-15s %-15s\n", "Metric", baselineLabel, candidateLabel, "Change")
	fmt.Fprintln(w, strings.Repeat("-", 65))

	fmt.Fprintf(w, "%-20s %-15d %-15d %-15s\n", "Issued", baseline.Issued, candidate.Issued, calculateChange(baseline.Issued, candidate.Issued))
	fmt.Fprintf(w, "%-20s %-15d %-15d %-15s\n", "Done", baseline.Done, candidate.Done, calculateChange(baseline.Done, candidate.Done))
	fmt.Fprintf(w, "%-20s %-15d %-15d %-15s\n", "Failed", baseline.Failed, candidate.Failed, calculateChangeReverse(baseline.Failed, candidate.Failed))
	fmt.Fprintf(w, "%-20s %-15d %-15d %-15s\n", "Retried", baseline.Retried, candidate.Retried, calculateChangeReverse(baseline.Retried, candidate.Retried))
	fmt.Fprintf(w, "%-20s %-15s %-15s %-15s\n", "Avg Load Time",
		formatDuration(baseline.AvgLoadTime), formatDuration(candidate.AvgLoadTime),
		calculateDurationChange(baseline.AvgLoadTime, candidate.AvgLoadTime))
	fmt.Fprintf(w, "%-20s %-15s %-15s %-15s\n", "Success Rate", successRate(baseline), successRate(candidate), "N/A")
}

func reasons(counts map[models.Reason]int) []models.Reason {
	out := make([]models.Reason, 0, len(counts))
	known := make(map[models.Reason]bool)
	for _, r := range reasonOrder {
		known[r] = true
		if counts[r] > 0 {
			out = append(out, r)
		}
	}
	var extra []models.Reason
	for r := range counts {
		if !known[r] && counts[r] > 0 {
			extra = append(extra, r)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func successRate(stats models.SessionStats) string {
	settled := stats.Done + stats.Failed
	if settled == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", float64(stats.Done)/float64(settled)*100)
}

func calculateChange(baseline, candidate int) string {
	if baseline == 0 {
		return "N/A"
	}
	return formatChange((float64(candidate) - float64(baseline)) / float64(baseline) * 100)
}

// calculateChangeReverse is positive when the candidate has fewer.
func calculateChangeReverse(baseline, candidate int) string {
	if baseline == 0 {
		return "N/A"
	}
	return formatChange((float64(baseline) - float64(candidate)) / float64(baseline) * 100)
}

func calculateDurationChange(baseline, candidate time.Duration) string {
	if baseline == 0 {
		return "N/A"
	}
	return formatChange((baseline.Seconds() - candidate.Seconds()) / baseline.Seconds() * 100)
}

func formatChange(pct float64) string {
	if pct > 0 {
		return fmt.Sprintf("+%.1f%%", pct)
	} else if pct < 0 {
		return fmt.Sprintf("%.1f%%", pct)
	}
	return "0%"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
