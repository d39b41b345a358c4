package posepool

import (
	"log/slog"
	"time"

	"github.com/poseworks/posepool/backoff"
	"github.com/poseworks/posepool/channel"
)

// Option configures a Client.
type Option func(*Client)

// WithConfig replaces the whole configuration. Later options still apply
// on top.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithLogger sets the structured logger used by the pool and its channels.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPoolSize sets the number of worker processes.
func WithPoolSize(n int) Option {
	return func(c *Client) { c.cfg.PoolSize = n }
}

// WithWorkerCommand sets the worker binary argv.
func WithWorkerCommand(path string, args ...string) Option {
	return func(c *Client) { c.cfg.WorkerCommand = append([]string{path}, args...) }
}

// WithWorkerEnv appends environment variables to each worker process.
func WithWorkerEnv(env ...string) Option {
	return func(c *Client) { c.cfg.WorkerEnv = append(c.cfg.WorkerEnv, env...) }
}

// WithCodec selects the wire codec by name ("msgpack" or "json").
func WithCodec(name string) Option {
	return func(c *Client) { c.cfg.Codec = name }
}

// WithLauncher substitutes a custom worker launcher. Used by tests and by
// embedders that manage worker processes themselves; WorkerCommand is
// ignored when set.
func WithLauncher(l channel.Launcher) Option {
	return func(c *Client) { c.launcher = l }
}

// WithRequestTimeout bounds every call except initialize.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.cfg.RequestTimeout = d }
}

// WithInitializeTimeout bounds the initialize handshake.
func WithInitializeTimeout(d time.Duration) Option {
	return func(c *Client) { c.cfg.InitializeTimeout = d }
}

// WithPingInterval enables periodic liveness pings of idle workers.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.cfg.PingInterval = d }
}

// WithMaxRestartAttempts bounds crash-replacement attempts per worker.
func WithMaxRestartAttempts(n int) Option {
	return func(c *Client) { c.cfg.MaxRestartAttempts = n }
}

// WithRateLimit drops Predict submissions beyond the sustained rate.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.cfg.RateLimit = perSecond
		c.cfg.RateBurst = burst
	}
}

// WithRestartBackoff sets the delay strategy between restart attempts.
func WithRestartBackoff(s backoff.Strategy) Option {
	return func(c *Client) { c.restartBackoff = s }
}
