package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sells-group/therapy-intel/internal/export"
	"github.com/sells-group/therapy-intel/internal/model"
)

const timeLayout = "2006-01-02 15:04"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatJobsList(w io.Writer, jobs []model.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tATTEMPTS\tDOCUMENT\tCREATED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%s\t%s\t%s\n",
			j.ID,
			j.Status,
			j.Priority,
			j.Attempts, j.MaxAttempts,
			j.DocumentID,
			j.CreatedAt.Format(timeLayout),
			truncateStr(j.ErrorMessage(), 60),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatQueueStats(w io.Writer, s *model.QueueStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Pending:\t%d\n", s.Pending)
	fmt.Fprintf(tw, "Processing:\t%d\n", s.Processing)
	fmt.Fprintf(tw, "Completed:\t%d\n", s.Completed)
	fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(tw, "Exhausted:\t%d\n", s.Exhausted)
	fmt.Fprintf(tw, "Stuck:\t%d\n", s.Stuck)
	fmt.Fprintf(tw, "Failure rate:\t%.1f%%\n", s.FailureRate()*100)
	fmt.Fprintf(tw, "Avg duration:\t%s\n", (time.Duration(s.AvgDurationSeconds * float64(time.Second))).Round(time.Second))
	tw.Flush() //nolint:errcheck
}

func formatExtractionsList(w io.Writer, exts []model.Extraction) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOCUMENT\tREVIEW\tTHERAPIES\tREVENUES\tAPPROVALS\tUPDATED")
	for _, e := range exts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.ID,
			e.DocumentID,
			e.Review.Status,
			len(e.Payload.Therapies),
			len(e.Payload.Revenues),
			len(e.Payload.Approvals),
			e.UpdatedAt.Format(timeLayout),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatMergeSummary(w io.Writer, s *model.MergeSummary) {
	fmt.Fprintf(w, "Approved %s\n", s.ExtractionID)
	fmt.Fprintf(w, "  therapies: %d created, %d updated\n", s.TherapiesCreated, s.TherapiesUpdated)
	fmt.Fprintf(w, "  revenues:  %d inserted, %d duplicate, %d unresolved\n", s.RevenuesInserted, s.RevenuesDuplicate, s.RevenuesUnresolved)
	fmt.Fprintf(w, "  approvals: %d inserted, %d skipped, %d diseases created\n", s.ApprovalsInserted, s.ApprovalsSkipped, s.DiseasesCreated)
}

func formatTimeline(w io.Writer, rows []model.ProcessedRevenue, names export.Names) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "THERAPY\tPERIOD\tREGION\tREVENUE ($M)\tLEVEL\tINTERPOLATED\tCONFIDENCE\t")
	for _, r := range rows {
		name := names[r.TherapyID]
		if name == "" {
			name = r.TherapyID
		}
		interp := ""
		if r.IsInterpolated {
			interp = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\t%d\t\n",
			name, r.Period, r.Region, r.RevenueMillionsUSD, r.HierarchyLevel, interp, r.Confidence)
	}
	tw.Flush() //nolint:errcheck
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
