// Command poseworker is the worker process the pool launches: it speaks
// the posepool wire protocol over stdin/stdout, logs JSON to stderr (the
// parent relays those lines), and runs pose-detection inference through
// ONNX Runtime.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/poseworks/posepool/artifact"
	"github.com/poseworks/posepool/artifact/disk"
	"github.com/poseworks/posepool/artifact/memory"
	artifactredis "github.com/poseworks/posepool/artifact/redis"
	"github.com/poseworks/posepool/channel"
	"github.com/poseworks/posepool/model/onnx"
	"github.com/poseworks/posepool/runtime"
	"github.com/poseworks/posepool/wire"
)

var (
	version = "dev"

	configPath string
	codecName  string
)

var rootCmd = &cobra.Command{
	Use:          "poseworker",
	Version:      version,
	Short:        "posepool inference worker",
	Long:         "Runs the posepool worker runtime over stdin/stdout. Launched by the pool, one process per worker.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to worker config YAML")
	rootCmd.Flags().StringVar(&codecName, "codec", "", "wire codec override (msgpack or json)")
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
	if codecName != "" {
		cfg.Codec = codecName
	}

	logger := newLogger(cfg.LogLevel)
	workerID := os.Getenv(channel.WorkerIDEnv)
	if workerID != "" {
		logger = logger.With(slog.String("worker_id", workerID))
	}
	slog.SetDefault(logger)

	files, err := disk.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("artifact cache: %w", err)
	}
	tiers := []artifact.Store{memory.New(), files}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		tiers = append(tiers, artifactredis.New(client, artifactredis.WithTTL(cfg.Redis.TTL)))
	}
	fetcher := artifact.NewFetcher(artifact.NewTiered(tiers...), artifact.WithLogger(logger))

	ort := onnx.NewRuntime(logger)
	boot := runtime.NewBootstrapper(cfg.Sources, files, fetcher, ort, logger)
	rt := runtime.New(boot, onnx.NewFactory(logger),
		runtime.WithLogger(logger),
		runtime.WithCodec(wire.GetCodec(cfg.Codec)),
	)

	logger.Info("worker starting",
		slog.String("codec", wire.GetCodec(cfg.Codec).Name()),
		slog.String("cache_dir", cfg.CacheDir),
		slog.Int("sources", len(cfg.Sources)),
	)
	return rt.Run(ctx, os.Stdin, os.Stdout)
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
	// Stdout carries protocol frames; logs must go to stderr only.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
