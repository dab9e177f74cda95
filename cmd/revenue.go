package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/export"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/revenue"
)

var revenueCmd = &cobra.Command{
	Use:   "revenue",
	Short: "Resolve and export revenue timelines",
}

var revenueTimelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Resolve the quarterly revenue timeline for stored therapies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		ids, _ := cmd.Flags().GetStringSlice("therapy")
		rows, err := env.Revenue.Timeline(ctx, ids...)
		if err != nil {
			return eris.Wrap(err, "revenue timeline")
		}

		therapies, err := env.Store.ListTherapies(ctx)
		if err != nil {
			return eris.Wrap(err, "revenue timeline: list therapies")
		}
		names := make(export.Names, len(therapies))
		for _, t := range therapies {
			names[t.ID] = t.Name
		}

		return writeTimeline(cmd, rows, names)
	},
}

var revenueResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a YAML fixture of revenue records without touching the database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("file")
		f, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "revenue resolve: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		records, err := revenue.LoadRecordsYAML(f)
		if err != nil {
			return err
		}
		return writeTimeline(cmd, revenue.Resolve(records), nil)
	},
}

var revenueImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load raw revenue records from CSV or XLSX",
	Long:  "Reads raw revenue facts (therapy_id, period, region, revenue_millions_usd, optional id and sources) and inserts those not already stored for the same therapy, period, and region.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")

		records, err := export.ReadRecords(path)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}
		stampRecords(records, time.Now().UTC())

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.ImportRevenueRecords(ctx, records)
		if err != nil {
			return eris.Wrap(err, "revenue import")
		}

		zap.L().Info("revenue import complete",
			zap.String("file", path),
			zap.Int("read", len(records)),
			zap.Int64("inserted", n),
		)
		fmt.Printf("Imported %d of %d records (%d already present).\n", n, len(records), int64(len(records))-n)
		return nil
	},
}

// stampRecords fills missing ids and timestamps before import.
func stampRecords(records []model.RevenueRecord, now time.Time) {
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
		if records[i].LastUpdated.IsZero() {
			records[i].LastUpdated = now
		}
	}
}

func writeTimeline(cmd *cobra.Command, rows []model.ProcessedRevenue, names export.Names) error {
	format, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("out")

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	switch format {
	case "table", "":
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No revenue data.")
			return nil
		}
		formatTimeline(w, rows, names)
		return nil
	case "csv":
		return export.WriteCSV(w, rows, names)
	case "xlsx":
		return export.WriteXLSX(w, rows, names)
	case "json":
		return printJSON(w, rows)
	default:
		return eris.Errorf("unknown format %q (want table, csv, xlsx, or json)", format)
	}
}

func init() {
	revenueTimelineCmd.Flags().StringSlice("therapy", nil, "therapy id (repeatable; default all)")

	revenueResolveCmd.Flags().String("file", "", "YAML fixture of revenue records (required)")
	_ = revenueResolveCmd.MarkFlagRequired("file")

	for _, c := range []*cobra.Command{revenueTimelineCmd, revenueResolveCmd} {
		c.Flags().String("format", "table", "output format: table, csv, xlsx, json")
		c.Flags().String("out", "", "write to this file instead of stdout")
	}

	revenueImportCmd.Flags().String("file", "", "CSV or XLSX file of revenue records (required)")
	_ = revenueImportCmd.MarkFlagRequired("file")

	revenueCmd.AddCommand(revenueTimelineCmd, revenueResolveCmd, revenueImportCmd)
	rootCmd.AddCommand(revenueCmd)
}
