package posepool

import (
	"github.com/poseworks/posepool/channel"
	"github.com/poseworks/posepool/model"
	"github.com/poseworks/posepool/pool"
	"github.com/poseworks/posepool/runtime"
)

// Error taxonomy. Each subsystem declares its own sentinels; the aliases
// below give callers a single import for errors.Is checks.
var (
	// Channel errors.
	ErrTimeout       = channel.ErrTimeout
	ErrWorkerCrash   = channel.ErrWorkerCrash
	ErrChannelClosed = channel.ErrChannelClosed

	// Pool errors.
	ErrPoolClosed     = pool.ErrPoolClosed
	ErrNotInitialized = pool.ErrNotInitialized
	ErrThrottled      = pool.ErrThrottled

	// Model errors.
	ErrUnsupportedModel = model.ErrUnsupportedModel
	ErrModelLoad        = model.ErrModelLoad
	ErrNoModelLoaded    = model.ErrNoModelLoaded
	ErrPrediction       = model.ErrPrediction

	// Worker runtime errors.
	ErrDependencyLoad = runtime.ErrDependencyLoad
)
