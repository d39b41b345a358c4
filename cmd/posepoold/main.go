// Command posepoold serves pose estimation over HTTP, backed by a pool of
// poseworker processes. It exists for deployments that want the pool as a
// sidecar service rather than an embedded library.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/poseworks/posepool"
	"github.com/poseworks/posepool/pool"
)

var (
	version = "dev"

	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:          "posepoold",
	Version:      version,
	Short:        "pose estimation service",
	Long:         "Serves single-frame pose estimation over HTTP, dispatching inference to a pool of isolated worker processes.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("POSEPOOLD_CONFIG"), "path to daemon config YAML")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "HTTP bind address override")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	client, err := posepool.New(
		posepool.WithConfig(cfg.Pool),
		posepool.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	client.OnEvent(func(evt pool.Event) {
		switch evt.Type {
		case pool.EventError:
			logger.Error("pool event", slog.String("worker_id", evt.WorkerID), slog.String("error", evt.Err.Error()))
		case pool.EventWorkerRestarted:
			logger.Info("worker restarted", slog.String("worker_id", evt.WorkerID))
		}
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Initialize(ctx); err != nil {
		return err
	}
	if cfg.Model != nil {
		if err := client.LoadModel(ctx, cfg.Model.Type, cfg.Model.Config); err != nil {
			return err
		}
		logger.Info("model preloaded", slog.String("model", cfg.Model.Type))
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newServer(client, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return client.Close()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
