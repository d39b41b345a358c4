// Package onnx backs the model package with ONNX Runtime sessions. It is
// only ever linked into worker binaries; the pool side never touches the
// inference runtime.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"

	ort "github.com/yalue/onnxruntime_go"
)

// Runtime manages the process-wide ONNX Runtime environment and satisfies
// the bootstrap initializer contract: load a shared library, then prove
// it works before declaring the dependency source good.
type Runtime struct {
	logger *slog.Logger
}

// NewRuntime creates the environment manager. One per worker process.
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{logger: logger}
}

// Initialize loads ONNX Runtime from libraryPath, or from the platform
// default location when empty. A previously initialized environment is
// torn down first so a fallback source gets a clean slate.
func (r *Runtime) Initialize(libraryPath string) error {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			return fmt.Errorf("posepool: reset onnxruntime environment: %w", err)
		}
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("posepool: initialize onnxruntime: %w", err)
	}
	r.logger.Debug("onnxruntime environment initialized",
		slog.String("library", libraryPath),
	)
	return nil
}

// Verify performs a tensor roundtrip through the loaded runtime. A shared
// library can dlopen cleanly and still be broken; this catches that before
// the source is declared usable.
func (r *Runtime) Verify() error {
	want := []float32{1, 2, 3, 4}
	tensor, err := ort.NewTensor(ort.NewShape(1, int64(len(want))), want)
	if err != nil {
		return fmt.Errorf("posepool: onnxruntime verification: %w", err)
	}
	defer tensor.Destroy()

	got := tensor.GetData()
	if len(got) != len(want) {
		return errors.New("posepool: onnxruntime verification: tensor roundtrip size mismatch")
	}
	for i := range want {
		if got[i] != want[i] {
			return errors.New("posepool: onnxruntime verification: tensor roundtrip data mismatch")
		}
	}
	return nil
}
