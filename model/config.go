package model

import "fmt"

// Config holds caller-supplied detector parameters. A Config passed to
// loadModel is merged over the variant defaults and is immutable from
// then on.
type Config struct {
	// Variant selects the flavor within a model family:
	// MoveNet "lightning" (192) or "thunder" (256); BlazePose "lite",
	// "full" or "heavy"; ignored by PoseNet.
	Variant string `json:"variant,omitempty" msgpack:"variant,omitempty" yaml:"variant,omitempty"`

	// InputSize is the square model input resolution in pixels.
	// Zero means the variant default.
	InputSize int `json:"inputSize,omitempty" msgpack:"inputSize,omitempty" yaml:"inputSize,omitempty"`

	// OutputStride is the PoseNet heatmap stride (8, 16 or 32).
	OutputStride int `json:"outputStride,omitempty" msgpack:"outputStride,omitempty" yaml:"outputStride,omitempty"`

	// ScoreThreshold drops keypoints at or below this confidence.
	// Zero means the default of 0.3.
	ScoreThreshold float64 `json:"scoreThreshold,omitempty" msgpack:"scoreThreshold,omitempty" yaml:"scoreThreshold,omitempty"`
}

// DefaultScoreThreshold is the keypoint confidence cutoff applied during
// post-processing when the caller does not override it.
const DefaultScoreThreshold = 0.3

// DefaultConfig returns the per-variant defaults for a model family.
func DefaultConfig(typ Type) Config {
	switch typ {
	case MoveNet:
		return Config{Variant: "lightning", InputSize: 192, ScoreThreshold: DefaultScoreThreshold}
	case PoseNet:
		return Config{InputSize: 257, OutputStride: 16, ScoreThreshold: DefaultScoreThreshold}
	case BlazePose:
		return Config{Variant: "full", InputSize: 256, ScoreThreshold: DefaultScoreThreshold}
	default:
		return Config{ScoreThreshold: DefaultScoreThreshold}
	}
}

// Merge returns base with any non-zero fields of override applied on top.
// A nil override returns base unchanged.
func Merge(base Config, override *Config) Config {
	if override == nil {
		return base
	}
	out := base
	if override.Variant != "" {
		out.Variant = override.Variant
		// MoveNet variants imply an input size unless explicitly set.
		if override.InputSize == 0 && override.Variant == "thunder" {
			out.InputSize = 256
		}
		if override.InputSize == 0 && override.Variant == "lightning" {
			out.InputSize = 192
		}
	}
	if override.InputSize > 0 {
		out.InputSize = override.InputSize
	}
	if override.OutputStride > 0 {
		out.OutputStride = override.OutputStride
	}
	if override.ScoreThreshold > 0 {
		out.ScoreThreshold = override.ScoreThreshold
	}
	return out
}

// ArtifactName returns the model artifact filename for a merged config,
// e.g. "movenet_lightning.onnx". Bootstrap resolves it against the
// dependency source's model base URL.
func ArtifactName(typ Type, cfg Config) string {
	switch typ {
	case MoveNet:
		return fmt.Sprintf("movenet_%s.onnx", cfg.Variant)
	case PoseNet:
		return fmt.Sprintf("posenet_mobilenet_stride%d.onnx", cfg.OutputStride)
	case BlazePose:
		return fmt.Sprintf("blazepose_%s.onnx", cfg.Variant)
	default:
		return ""
	}
}
