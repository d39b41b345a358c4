package posepool

import (
	"context"
	"log/slog"

	"github.com/poseworks/posepool/backoff"
	"github.com/poseworks/posepool/channel"
	"github.com/poseworks/posepool/model"
	"github.com/poseworks/posepool/pool"
	"github.com/poseworks/posepool/wire"
)

// Client is the embedder-facing facade: it owns a worker pool and exposes
// the model lifecycle and inference surface against it.
type Client struct {
	cfg            Config
	logger         *slog.Logger
	launcher       channel.Launcher
	restartBackoff backoff.Strategy
	pool           *pool.Pool
}

// New builds a Client from options. Workers are not launched until
// Initialize.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Validate(c.launcher != nil); err != nil {
		return nil, err
	}
	if c.launcher == nil {
		c.launcher = &channel.ProcessLauncher{
			Command: c.cfg.WorkerCommand,
			Env:     c.cfg.WorkerEnv,
			Dir:     c.cfg.WorkerDir,
		}
	}

	chOpts := []channel.Option{
		channel.WithCodec(wire.GetCodec(c.cfg.Codec)),
		channel.WithLogger(c.logger),
	}
	if c.cfg.RequestTimeout > 0 {
		chOpts = append(chOpts, channel.WithRequestTimeout(c.cfg.RequestTimeout))
	}
	if c.cfg.InitializeTimeout > 0 {
		chOpts = append(chOpts, channel.WithInitializeTimeout(c.cfg.InitializeTimeout))
	}

	poolOpts := []pool.Option{
		pool.WithChannelOptions(chOpts...),
		pool.WithMaxRestartAttempts(c.cfg.MaxRestartAttempts),
	}
	if c.restartBackoff != nil {
		poolOpts = append(poolOpts, pool.WithRestartBackoff(c.restartBackoff))
	}
	if c.cfg.PingInterval > 0 {
		poolOpts = append(poolOpts, pool.WithPingInterval(c.cfg.PingInterval))
	}
	if c.cfg.RateLimit > 0 {
		poolOpts = append(poolOpts, pool.WithRateLimit(c.cfg.RateLimit, c.cfg.RateBurst))
	}

	c.pool = pool.New(c.launcher, c.logger, poolOpts...)
	return c, nil
}

// Initialize launches the configured number of workers and waits for all
// of them to finish dependency bootstrap. Any failure aborts the pool.
func (c *Client) Initialize(ctx context.Context) error {
	return c.pool.Initialize(ctx, c.cfg.PoolSize)
}

// LoadModel loads the named model on every worker. cfg may be nil for the
// variant defaults.
func (c *Client) LoadModel(ctx context.Context, modelType string, cfg *model.Config) error {
	return c.pool.LoadModelAll(ctx, modelType, cfg)
}

// Predict runs single-frame pose estimation on any idle worker, queueing
// FIFO when all are busy.
func (c *Client) Predict(ctx context.Context, frame model.Frame) (*wire.PredictResult, error) {
	return c.pool.Predict(ctx, frame)
}

// Execute runs an arbitrary task on any idle worker.
func (c *Client) Execute(ctx context.Context, task pool.Task) (any, error) {
	return c.pool.Execute(ctx, task)
}

// Status reports a point-in-time snapshot of the pool.
func (c *Client) Status() pool.Status { return c.pool.Status() }

// OnEvent registers a listener for pool lifecycle events and relayed
// worker notifications.
func (c *Client) OnEvent(fn func(pool.Event)) { c.pool.OnEvent(fn) }

// Close terminates all workers. Idempotent.
func (c *Client) Close() error { return c.pool.Close() }
