package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/extract"
	"github.com/sells-group/therapy-intel/internal/ocr"
	"github.com/sells-group/therapy-intel/internal/worker"
	"github.com/sells-group/therapy-intel/pkg/anthropic"
)

var (
	workerOnce        bool
	workerMetricsAddr string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued extraction jobs",
	Long:  "Claims pending jobs, extracts text from the stored document, and asks Claude for structured therapy facts. With --once, drains the queue and exits.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker", true)
		if err != nil {
			return err
		}
		defer env.Close()

		extractor := extract.NewClaudeExtractor(
			anthropic.NewClient(cfg.Anthropic.Key),
			ocr.NewExtractor(cfg.OCR),
			cfg.Anthropic,
		)
		w := worker.New(env.Queue, env.Documents, env.Store, extractor, cfg.Worker).WithRecorder(env.Metrics)

		if workerOnce {
			n, err := w.RunOnce(ctx)
			zap.L().Info("worker drained queue", zap.Int("processed", n))
			return err
		}

		if workerMetricsAddr != "" {
			srv := &http.Server{
				Addr:              workerMetricsAddr,
				Handler:           promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zap.L().Error("metrics listener", zap.Error(err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				srv.Shutdown(shutdownCtx) //nolint:errcheck
			}()
		}

		return w.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "process pending jobs until the queue is empty, then exit")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(workerCmd)
}
