// Package runtime is the program running inside a worker process. It owns
// the worker state machine — dependency bootstrap, model lifecycle, and
// single-frame inference — and speaks the wire protocol over stdin/stdout.
//
// The runtime processes messages strictly in arrival order on a single
// goroutine: request n+1 never starts before request n finishes. All
// coordination with the caller is message passing; nothing is shared.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/poseworks/posepool/model"
	"github.com/poseworks/posepool/wire"
)

// State is the worker runtime lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateDependenciesLoading
	StateDependenciesReady
	StateInitialized
	StateModelLoaded
	StateError
)

var stateNames = map[State]string{
	StateUninitialized:       "Uninitialized",
	StateDependenciesLoading: "DependenciesLoading",
	StateDependenciesReady:   "DependenciesReady",
	StateInitialized:         "Initialized",
	StateModelLoaded:         "ModelLoaded",
	StateError:               "Error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger. Workers log to stderr; the
// parent relays those lines.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithCodec sets the wire codec. Must match the caller's codec.
func WithCodec(c wire.Codec) Option {
	return func(r *Runtime) { r.codec = c }
}

// Runtime executes requests against at most one live model instance.
// Once in StateError it rejects every subsequent request with the original
// cause; recovery is the pool's job, not the runtime's.
type Runtime struct {
	bootstrapper *Bootstrapper
	factory      model.Factory
	codec        wire.Codec
	logger       *slog.Logger

	state    State
	stateErr error

	source    *Source
	detector  model.Detector
	modelType model.Type
	modelCfg  model.Config

	writer *wire.Writer
}

// New creates a worker runtime. The factory constructs detectors from
// model artifacts materialized by the bootstrapper.
func New(bootstrapper *Bootstrapper, factory model.Factory, opts ...Option) *Runtime {
	r := &Runtime{
		bootstrapper: bootstrapper,
		factory:      factory,
		codec:        wire.GetCodec(""),
		logger:       slog.Default(),
		state:        StateUninitialized,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Runtime) State() State { return r.state }

// Run processes messages from in until it ends (clean shutdown) or breaks.
// A panic escaping a handler is reported as an unhandled-rejection event
// before Run returns the panic as an error; the process exit then surfaces
// to the pool as a crash.
func (r *Runtime) Run(ctx context.Context, in io.Reader, out io.Writer) (err error) {
	r.writer = wire.NewWriter(out, r.codec)
	reader := wire.NewReader(in, r.codec)

	defer func() {
		if r.detector != nil {
			_ = r.detector.Close()
			r.detector = nil
		}
		if rec := recover(); rec != nil {
			r.logger.Error("unhandled panic in worker loop",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			r.emit(wire.EventUnhandledRejection, map[string]any{"reason": fmt.Sprint(rec)})
			err = fmt.Errorf("posepool: worker runtime panic: %v", rec)
		}
	}()

	for {
		m, readErr := reader.Read()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				r.logger.Info("request stream ended, worker exiting")
				return nil
			}
			return readErr
		}
		r.handle(ctx, m)
	}
}

// handle runs one request. Handler panics move the runtime to StateError
// and settle the request with an error frame instead of tearing the
// process down.
func (r *Runtime) handle(ctx context.Context, m *wire.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic",
				slog.String("type", string(m.Type)),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			r.state = StateError
			r.stateErr = fmt.Errorf("posepool: %s handler panic: %v", m.Type, rec)
			r.emit(wire.EventWorkerFailed, map[string]any{"reason": r.stateErr.Error()})
			r.writeError(m.ID, r.stateErr)
		}
	}()

	if r.state == StateError {
		r.writeError(m.ID, fmt.Errorf("posepool: worker in error state: %w", r.stateErr))
		return
	}

	switch m.Type {
	case wire.TypeInitialize:
		r.handleInitialize(ctx, m)
	case wire.TypeLoadModel:
		r.handleLoadModel(ctx, m)
	case wire.TypePredict:
		r.handlePredict(ctx, m)
	case wire.TypePing:
		r.writeResponse(m.ID, wire.PingResult{State: r.state.String()})
	default:
		r.writeError(m.ID, fmt.Errorf("posepool: unknown message type %q", m.Type))
	}
}

func (r *Runtime) handleInitialize(ctx context.Context, m *wire.Message) {
	if r.state >= StateInitialized {
		r.writeResponse(m.ID, wire.InitializeResult{Source: r.source.Name})
		return
	}

	r.state = StateDependenciesLoading
	src, err := r.bootstrapper.Run(ctx)
	if err != nil {
		r.state = StateError
		r.stateErr = err
		r.emit(wire.EventWorkerFailed, map[string]any{"reason": err.Error()})
		r.writeError(m.ID, err)
		return
	}
	r.state = StateDependenciesReady
	r.source = src

	r.state = StateInitialized
	r.logger.Info("worker initialized", slog.String("source", src.Name))
	r.emit(wire.EventWorkerReady, map[string]any{"source": src.Name})
	r.writeResponse(m.ID, wire.InitializeResult{Source: src.Name})
}

func (r *Runtime) handleLoadModel(ctx context.Context, m *wire.Message) {
	if r.state < StateInitialized {
		r.writeError(m.ID, fmt.Errorf("posepool: loadModel before initialize (state %s)", r.state))
		return
	}

	var p wire.LoadModelPayload
	if err := r.codec.Unmarshal(m.Payload, &p); err != nil {
		r.writeError(m.ID, fmt.Errorf("posepool: decode loadModel payload: %w", err))
		return
	}

	// Exactly one live model instance per worker: release the previous one
	// before anything else, so a rejected load never leaves a stale model
	// serving predicts.
	if r.detector != nil {
		_ = r.detector.Close()
		r.detector = nil
		r.state = StateInitialized
	}

	typ, err := model.ParseType(p.ModelType)
	if err != nil {
		r.writeError(m.ID, err)
		return
	}
	cfg := model.Merge(model.DefaultConfig(typ), p.Config)

	start := time.Now()
	path, err := r.bootstrapper.ModelPath(ctx, r.source, model.ArtifactName(typ, cfg))
	if err != nil {
		// Load failures are local to this request; the worker stays usable.
		r.writeError(m.ID, fmt.Errorf("%w: %v", model.ErrModelLoad, err))
		return
	}
	det, err := r.factory(typ, cfg, path)
	if err != nil {
		r.writeError(m.ID, fmt.Errorf("%w: %v", model.ErrModelLoad, err))
		return
	}

	r.detector = det
	r.modelType = typ
	r.modelCfg = cfg
	r.state = StateModelLoaded

	loadMs := time.Since(start).Milliseconds()
	r.logger.Info("model loaded",
		slog.String("model", string(typ)),
		slog.String("variant", cfg.Variant),
		slog.Int64("load_ms", loadMs),
	)
	r.emit(wire.EventModelLoaded, map[string]any{"modelType": string(typ), "loadTimeMs": loadMs})
	r.writeResponse(m.ID, wire.LoadModelResult{ModelType: string(typ), Config: cfg, LoadTime: loadMs})
}

func (r *Runtime) handlePredict(ctx context.Context, m *wire.Message) {
	if r.detector == nil {
		r.writeError(m.ID, model.ErrNoModelLoaded)
		return
	}

	var p wire.PredictPayload
	if err := r.codec.Unmarshal(m.Payload, &p); err != nil {
		r.writeError(m.ID, fmt.Errorf("posepool: decode predict payload: %w", err))
		return
	}

	det, err := r.detector.Detect(ctx, p.Frame)
	if err != nil {
		if errors.Is(err, model.ErrPrediction) {
			r.writeError(m.ID, err)
		} else {
			r.writeError(m.ID, fmt.Errorf("%w: %v", model.ErrPrediction, err))
		}
		return
	}

	poses := model.Finalize(det.Poses, r.modelCfg.ScoreThreshold)
	res := wire.PredictResult{
		Poses:           poses,
		InferenceTimeMs: float64(det.InferenceTime.Microseconds()) / 1000,
		ModelType:       string(r.modelType),
		Timestamp:       time.Now().UTC(),
		InputDimensions: wire.Dimensions{Width: p.Frame.Width, Height: p.Frame.Height},
	}
	r.writeResponse(m.ID, res)
	r.emit(wire.EventInferenceComplete, map[string]any{
		"inferenceTime": res.InferenceTimeMs,
		"poseCount":     len(poses),
	})
}

func (r *Runtime) writeResponse(reqID string, payload any) {
	m, err := wire.NewResponse(r.codec, reqID, payload)
	if err != nil {
		r.logger.Error("encode response", slog.String("error", err.Error()))
		m = wire.NewError(reqID, err)
	}
	if err := r.writer.Write(m); err != nil {
		r.logger.Error("write response", slog.String("error", err.Error()))
	}
}

func (r *Runtime) writeError(reqID string, cause error) {
	if err := r.writer.Write(wire.NewError(reqID, cause)); err != nil {
		r.logger.Error("write error response", slog.String("error", err.Error()))
	}
}

// emit posts an unsolicited event notification. Event write failures are
// logged and swallowed: events are advisory, requests are not.
func (r *Runtime) emit(name wire.EventName, data map[string]any) {
	m, err := wire.NewEvent(r.codec, name, data)
	if err != nil {
		r.logger.Error("encode event", slog.String("event", string(name)), slog.String("error", err.Error()))
		return
	}
	if err := r.writer.Write(m); err != nil {
		r.logger.Error("write event", slog.String("event", string(name)), slog.String("error", err.Error()))
	}
}
