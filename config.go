package posepool

import (
	"fmt"
	"time"

	"github.com/poseworks/posepool/channel"
	"github.com/poseworks/posepool/wire"
)

// Config holds client-side settings. Zero values fall back to the
// defaults below; use DefaultConfig as the starting point.
type Config struct {
	// PoolSize is the number of worker processes to run.
	PoolSize int `yaml:"poolSize"`

	// WorkerCommand is the argv of the worker binary. Required unless a
	// custom launcher is supplied.
	WorkerCommand []string `yaml:"workerCommand"`

	// WorkerEnv is extra environment appended to each worker process.
	WorkerEnv []string `yaml:"workerEnv,omitempty"`

	// WorkerDir is the working directory for worker processes.
	WorkerDir string `yaml:"workerDir,omitempty"`

	// Codec names the wire codec: "msgpack" (default) or "json". Both
	// sides of the protocol must agree.
	Codec string `yaml:"codec,omitempty"`

	// RequestTimeout bounds every call except initialize.
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`

	// InitializeTimeout bounds the initialize handshake, which includes
	// dependency bootstrap inside the worker.
	InitializeTimeout time.Duration `yaml:"initializeTimeout,omitempty"`

	// PingInterval enables periodic liveness pings of idle workers.
	// Zero disables them.
	PingInterval time.Duration `yaml:"pingInterval,omitempty"`

	// MaxRestartAttempts bounds crash-replacement attempts per worker.
	MaxRestartAttempts int `yaml:"maxRestartAttempts,omitempty"`

	// RateLimit drops Predict submissions beyond this sustained
	// per-second rate. Zero disables dropping.
	RateLimit float64 `yaml:"rateLimit,omitempty"`

	// RateBurst is the token-bucket burst for RateLimit.
	RateBurst int `yaml:"rateBurst,omitempty"`
}

// DefaultConfig returns the settings used when options do not override
// them.
func DefaultConfig() Config {
	return Config{
		PoolSize:           4,
		Codec:              wire.CodecNameMsgpack,
		RequestTimeout:     channel.DefaultRequestTimeout,
		InitializeTimeout:  channel.DefaultInitializeTimeout,
		MaxRestartAttempts: 3,
	}
}

// Validate checks the configuration. hasLauncher relaxes the worker
// command requirement for callers that launch workers themselves.
func (c Config) Validate(hasLauncher bool) error {
	if c.PoolSize < 1 {
		return fmt.Errorf("posepool: pool size %d, need at least 1", c.PoolSize)
	}
	if !hasLauncher && len(c.WorkerCommand) == 0 {
		return fmt.Errorf("posepool: no worker command configured")
	}
	if c.RequestTimeout < 0 || c.InitializeTimeout < 0 {
		return fmt.Errorf("posepool: negative timeout")
	}
	return nil
}
