package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/taskbridge/taskbridge-client/internal/job"
)

const displayTimeFormat = "02.01.2006 15:04:05"

// renderTable writes the projected job list in display order.
func renderTable(w io.Writer, records []job.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no jobs")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tUSER\tFILENAME\tJOB ID\tSTATUS")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(displayTimeFormat),
			r.UserID,
			r.Filename,
			r.ID,
			statusCell(r),
		)
	}
	_ = tw.Flush()
}

// statusCell renders the status with whatever progress detail applies.
func statusCell(r job.Record) string {
	switch {
	case r.UploadProgress != nil:
		return fmt.Sprintf("%s (uploading %d%%)", r.Status, *r.UploadProgress)
	case r.Status == job.StatusQueued || r.Status == job.StatusRunning:
		if r.Description != "" {
			return fmt.Sprintf("%s %d%%: %s", r.Status, r.Progress, r.Description)
		}
		return fmt.Sprintf("%s %d%%", r.Status, r.Progress)
	case r.Status == job.StatusFailed:
		return fmt.Sprintf("%s (see: taskbridge show %s)", r.Status, r.ID)
	default:
		return string(r.Status)
	}
}

// renderDetail prints one record in full, with the backend error message
// verbatim so it can be copied as-is.
func renderDetail(w io.Writer, r job.Record) {
	fmt.Fprintf(w, "Job:      %s\n", r.ID)
	fmt.Fprintf(w, "Filename: %s\n", r.Filename)
	fmt.Fprintf(w, "User:     %s\n", r.UserID)
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Local().Format(displayTimeFormat))
	fmt.Fprintf(w, "Status:   %s\n", r.Status)
	if !r.IsTerminal() {
		fmt.Fprintf(w, "Progress: %d%%\n", r.Progress)
	}
	if r.Description != "" {
		fmt.Fprintf(w, "Step:     %s\n", r.Description)
	}
	if r.Status == job.StatusFailed {
		fmt.Fprintf(w, "Error:\n%s\n", r.ErrorMessage)
	}
}

// formatSize converts a byte count into a human-readable size.
func formatSize(n int64) string {
	v := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f TB", v)
}
