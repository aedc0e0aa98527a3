package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"imgscraper/pkg/scraper"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// QuotaBar renders saved/quota as a fixed width bar
func QuotaBar(saved, quota int) string {
	filled := 0
	if quota > 0 {
		filled = saved * barWidth / quota
	}
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	return fmt.Sprintf("[%s] %d/%d",
		strings.Repeat(ProgressBar, filled)+strings.Repeat(ProgressEmpty, barWidth-filled),
		saved, quota)
}

// FormatDuration rounds d for display
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

// WriteSummary writes one row per outcome followed by a totals line
func WriteSummary(w io.Writer, outcomes []scraper.Outcome, quota int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSAVED\tMISSED\tSCROLLS\tREASON\tTIME")

	total, failed := 0, 0
	for _, o := range outcomes {
		reason := string(o.Reason)
		if o.Failed() {
			failed++
			reason = Red(reason)
			if o.Err != nil {
				reason += " " + Dim(o.Err.Error())
			}
		} else if o.Reason == scraper.ReasonQuotaReached {
			reason = Green(reason)
		} else {
			reason = Yellow(reason)
		}
		total += o.SavedCount

		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			o.Key, QuotaBar(o.SavedCount, quota), o.MissedCount, o.ScrollCycles, reason, FormatDuration(o.Duration))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%s %d images across %d keys, %d failed\n", Cyan("Total:"), total, len(outcomes), failed)
	return err
}

// PrintSummary writes the summary to the configured output
func PrintSummary(outcomes []scraper.Outcome, quota int) {
	_ = WriteSummary(writer(false), outcomes, quota)
}
