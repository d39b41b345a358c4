package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/poseworks/posepool/artifact"
	"github.com/poseworks/posepool/artifact/disk"
)

// ErrDependencyLoad is returned when every configured dependency source
// has been attempted and none produced a usable inference runtime.
var ErrDependencyLoad = errors.New("posepool: dependency load failed")

// Source is one place to obtain the inference runtime and model artifacts
// from. Sources are ordered: the first is primary, the rest are fallbacks.
type Source struct {
	// Name identifies the source in logs and events, e.g. "jsdelivr".
	Name string `yaml:"name"`

	// RuntimeLibrary is a URL or local path to the ONNX runtime shared
	// library. Empty means the runtime's built-in default location.
	RuntimeLibrary string `yaml:"runtimeLibrary,omitempty"`

	// ModelBaseURL is the base URL or directory model artifact names are
	// resolved against.
	ModelBaseURL string `yaml:"modelBaseURL"`
}

// Initializer brings up the inference runtime from a shared library and
// verifies it actually works. Implemented by model/onnx; tests substitute
// fakes.
type Initializer interface {
	// Initialize loads the runtime from libraryPath ("" = default).
	Initialize(libraryPath string) error

	// Verify proves the loaded runtime is usable. A library can load at
	// the dlopen level and still not expose a working runtime.
	Verify() error
}

// Bootstrapper loads the worker's inference dependencies, trying each
// configured source in order and failing only after all are exhausted.
type Bootstrapper struct {
	sources []Source
	files   *disk.Store
	fetcher *artifact.Fetcher
	init    Initializer
	logger  *slog.Logger
}

// NewBootstrapper creates a Bootstrapper. files is the on-disk tier where
// fetched artifacts are materialized (the runtime library must be a real
// file for dlopen); fetcher resolves URLs through the artifact cache.
func NewBootstrapper(sources []Source, files *disk.Store, fetcher *artifact.Fetcher, init Initializer, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{
		sources: sources,
		files:   files,
		fetcher: fetcher,
		init:    init,
		logger:  logger,
	}
}

// Run attempts the full dependency load from each source in turn and
// returns the first source that yields a verified runtime.
func (b *Bootstrapper) Run(ctx context.Context) (*Source, error) {
	if len(b.sources) == 0 {
		return nil, fmt.Errorf("%w: no dependency sources configured", ErrDependencyLoad)
	}

	var names []string
	for i := range b.sources {
		src := &b.sources[i]
		names = append(names, src.Name)

		libPath, err := b.materialize(ctx, src.RuntimeLibrary)
		if err != nil {
			b.logger.Warn("dependency source failed",
				slog.String("source", src.Name),
				slog.String("stage", "materialize"),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := b.init.Initialize(libPath); err != nil {
			b.logger.Warn("dependency source failed",
				slog.String("source", src.Name),
				slog.String("stage", "initialize"),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := b.init.Verify(); err != nil {
			// Loaded at the library level but not actually usable.
			b.logger.Warn("dependency source failed",
				slog.String("source", src.Name),
				slog.String("stage", "verify"),
				slog.String("error", err.Error()),
			)
			continue
		}

		b.logger.Info("dependencies ready", slog.String("source", src.Name))
		return src, nil
	}

	return nil, fmt.Errorf("%w: exhausted sources [%s]", ErrDependencyLoad, strings.Join(names, ", "))
}

// ModelPath materializes a model artifact from the winning source and
// returns its on-disk path.
func (b *Bootstrapper) ModelPath(ctx context.Context, src *Source, filename string) (string, error) {
	if src == nil {
		return "", fmt.Errorf("posepool: model path requested before bootstrap")
	}
	if filename == "" {
		return "", fmt.Errorf("posepool: no artifact name for model")
	}
	return b.materialize(ctx, joinRef(src.ModelBaseURL, filename))
}

// materialize turns an artifact reference into a local file path: local
// paths are stat-checked, URLs are fetched through the cache and written
// into the disk tier.
func (b *Bootstrapper) materialize(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if !isURL(ref) {
		if _, err := os.Stat(ref); err != nil {
			return "", fmt.Errorf("posepool: artifact %s: %w", ref, err)
		}
		return ref, nil
	}

	key := artifact.Key(ref)
	if path, ok := b.files.Path(key); ok {
		return path, nil
	}
	data, err := b.fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	// The tiered fetch normally writes through the disk tier; make sure
	// the file exists even when the hit came from a pure byte tier.
	if path, ok := b.files.Path(key); ok {
		return path, nil
	}
	if err := b.files.Put(ctx, key, data); err != nil {
		return "", err
	}
	path, _ := b.files.Path(key)
	return path, nil
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func joinRef(base, name string) string {
	if base == "" {
		return name
	}
	if isURL(base) {
		return strings.TrimSuffix(base, "/") + "/" + name
	}
	return strings.TrimSuffix(base, "/") + string(os.PathSeparator) + name
}
