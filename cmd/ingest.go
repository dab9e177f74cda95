package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestPriority int

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Store documents and enqueue extraction jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", true)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "ingest: read %s", path)
			}

			res, err := env.Documents.Ingest(ctx, filepath.Base(path), "", data, ingestPriority)
			if err != nil {
				return eris.Wrapf(err, "ingest %s", path)
			}

			switch {
			case res.JobSkipped:
				fmt.Printf("%s\tdocument %s (duplicate, job already active)\n", path, res.Document.ID)
			case res.Duplicate:
				fmt.Printf("%s\tdocument %s (duplicate), job %s\n", path, res.Document.ID, res.Job.ID)
			default:
				fmt.Printf("%s\tdocument %s, job %s\n", path, res.Document.ID, res.Job.ID)
			}
			zap.L().Debug("ingested", zap.String("path", path), zap.String("document_id", res.Document.ID))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestPriority, "priority", 0, "job priority 1-10, lower runs first (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
