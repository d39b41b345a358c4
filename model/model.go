// Package model defines the pose-detection model surface shared by both
// sides of the worker protocol: model variants and their configuration,
// frame and pose data types, and the pure decoding/post-processing math
// that turns raw inference output into scored keypoints.
//
// The package is deliberately free of any inference runtime dependency.
// Concrete detectors backed by ONNX Runtime live in model/onnx and run
// only inside worker processes.
package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnsupportedModel is returned when a loadModel request names a
	// model type that is not one of the recognized variants.
	ErrUnsupportedModel = errors.New("posepool: unsupported model type")

	// ErrModelLoad is returned when constructing a detector fails.
	ErrModelLoad = errors.New("posepool: model load failed")

	// ErrNoModelLoaded is returned by predict when no model is loaded.
	ErrNoModelLoaded = errors.New("posepool: no model loaded")

	// ErrPrediction is returned when single-frame inference fails.
	ErrPrediction = errors.New("posepool: prediction failed")
)

// Type names a supported pose-detection model family.
type Type string

// Supported model families.
const (
	MoveNet   Type = "MoveNet"
	PoseNet   Type = "PoseNet"
	BlazePose Type = "BlazePose"
)

// ParseType validates a model type string received over the wire.
// The returned error names the unsupported type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case MoveNet, PoseNet, BlazePose:
		return Type(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, s)
	}
}

// Detection is the result of single-frame inference.
// InferenceTime is measured strictly around the inference call, not the
// surrounding preprocessing or the message round trip.
type Detection struct {
	Poses         []Pose
	InferenceTime time.Duration
}

// Detector runs single-pose estimation on one frame at a time.
// A worker owns at most one live Detector; loading a new model disposes
// the previous one first.
type Detector interface {
	// Detect runs inference on a single frame and returns raw poses in
	// normalized [0,1] coordinates, before score filtering.
	Detect(ctx context.Context, frame Frame) (*Detection, error)

	// Close releases the detector's resources. Safe to call once.
	Close() error
}

// Factory constructs a Detector for the given variant from a model
// artifact on disk. The config has already been merged over the variant
// defaults.
type Factory func(typ Type, cfg Config, modelPath string) (Detector, error)
