package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/therapy-intel/internal/monitoring"
)

var monitorOnce bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check queue and review health and send alerts",
	Long:  "Snapshots queue statistics and the pending-review backlog, evaluates alert thresholds, and posts breaches to the configured webhook. Stuck jobs are reported, never reset.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "monitor", false)
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Queue, env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			env.Metrics,
			cfg.Monitoring,
		)

		if !monitorOnce {
			checker.Run(ctx)
			return nil
		}

		alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts.")
			return nil
		}
		for _, a := range alerts {
			fmt.Printf("[%s] %s: %s\n", a.Severity, a.Type, a.Message)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run a single check and print the alerts")
	rootCmd.AddCommand(monitorCmd)
}
