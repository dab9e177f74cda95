package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/store"
)

var extractionsCmd = &cobra.Command{
	Use:     "extractions",
	Aliases: []string{"ext"},
	Short:   "Review extracted facts",
}

var extractionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extractions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		exts, err := env.Review.List(ctx, store.ExtractionFilter{
			Status: model.ReviewStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "extractions list")
		}

		if len(exts) == 0 {
			fmt.Fprintln(os.Stderr, "No extractions found.")
			return nil
		}

		formatExtractionsList(os.Stdout, exts)
		return nil
	},
}

var extractionsShowCmd = &cobra.Command{
	Use:   "show <extraction-id>",
	Short: "Show an extraction and its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		ext, err := env.Review.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "extractions show")
		}
		return printJSON(os.Stdout, ext)
	},
}

var extractionsApproveCmd = &cobra.Command{
	Use:   "approve <extraction-id>",
	Short: "Merge an extraction into the canonical tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		actor, _ := cmd.Flags().GetString("actor")
		notes, _ := cmd.Flags().GetString("notes")

		summary, err := env.Review.Approve(ctx, args[0], actor, notes)
		if err != nil {
			return eris.Wrap(err, "extractions approve")
		}
		formatMergeSummary(os.Stdout, summary)
		return nil
	},
}

var extractionsRejectCmd = &cobra.Command{
	Use:   "reject <extraction-id>",
	Short: "Reject an extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		actor, _ := cmd.Flags().GetString("actor")
		notes, _ := cmd.Flags().GetString("notes")

		ext, err := env.Review.Reject(ctx, args[0], actor, notes)
		if err != nil {
			return eris.Wrap(err, "extractions reject")
		}
		fmt.Printf("Rejected %s by %s\n", ext.ID, ext.Review.Actor)
		return nil
	},
}

var extractionsDeleteCmd = &cobra.Command{
	Use:   "delete <extraction-id>",
	Short: "Delete a pending extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Review.Delete(ctx, args[0]); err != nil {
			return eris.Wrap(err, "extractions delete")
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	extractionsListCmd.Flags().String("status", "", "filter by review status (pending, approved, rejected)")
	extractionsListCmd.Flags().Int("limit", 50, "max results")
	extractionsListCmd.Flags().Int("offset", 0, "skip this many results")

	for _, c := range []*cobra.Command{extractionsApproveCmd, extractionsRejectCmd} {
		c.Flags().String("actor", "", "reviewer identity (required)")
		c.Flags().String("notes", "", "review notes")
		_ = c.MarkFlagRequired("actor")
	}

	extractionsCmd.AddCommand(extractionsListCmd, extractionsShowCmd, extractionsApproveCmd, extractionsRejectCmd, extractionsDeleteCmd)
	rootCmd.AddCommand(extractionsCmd)
}
