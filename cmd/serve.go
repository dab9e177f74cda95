package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/api"
	"github.com/sells-group/therapy-intel/internal/monitoring"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort       int
	serveNoMonitor  bool
	serveMaxUpload  int64
	serveCORSOrigin []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves document upload, queue administration, extraction review, and revenue timelines. Also runs the alert checker unless --no-monitor is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		if !serveNoMonitor {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Queue, env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				env.Metrics,
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		server := api.New(api.Deps{
			Queue:          env.Queue,
			Review:         env.Review,
			Documents:      env.Documents,
			Revenue:        env.Revenue,
			Therapies:      env.Store,
			Health:         env.Store,
			Metrics:        promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}),
			MaxUploadBytes: serveMaxUpload,
			RetentionDays:  cfg.Queue.RetentionDays,
			AllowedOrigins: serveCORSOrigin,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoMonitor, "no-monitor", false, "do not run the alert checker")
	serveCmd.Flags().Int64Var(&serveMaxUpload, "max-upload-bytes", 64<<20, "maximum document upload size")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigin, "cors-origin", nil, "allowed CORS origins (default any)")
	rootCmd.AddCommand(serveCmd)
}
