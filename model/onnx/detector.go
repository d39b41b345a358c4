package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/poseworks/posepool/model"
)

// Tensor names baked into the exported model artifacts.
const (
	moveNetInput  = "input"
	moveNetOutput = "output_0"

	poseNetInput    = "sub_2"
	poseNetHeatmaps = "float_heatmaps"
	poseNetOffsets  = "float_short_offsets"

	blazePoseInput  = "input_1"
	blazePoseOutput = "Identity"
)

const (
	cocoKeypoints      = 17
	blazePoseKeypoints = 33
	blazePoseFields    = 5 // x, y, z, visibility, presence
)

// detector wraps one ONNX session with pre-bound input/output tensors.
// A worker runs one frame at a time, so tensors are reused across calls.
type detector struct {
	typ     model.Type
	cfg     model.Config
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	grid    int // posenet heatmap cells per side
}

// NewFactory returns the detector factory used by worker runtimes.
func NewFactory(logger *slog.Logger) model.Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(typ model.Type, cfg model.Config, modelPath string) (model.Detector, error) {
		d, err := newDetector(typ, cfg, modelPath)
		if err != nil {
			return nil, err
		}
		logger.Debug("onnx session created",
			slog.String("model", string(typ)),
			slog.String("path", modelPath),
			slog.Int("input_size", cfg.InputSize),
		)
		return d, nil
	}
}

func newDetector(typ model.Type, cfg model.Config, modelPath string) (*detector, error) {
	size := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, size, size, 3))
	if err != nil {
		return nil, fmt.Errorf("posepool: allocate input tensor: %w", err)
	}

	d := &detector{typ: typ, cfg: cfg, input: input}

	var (
		inputName    string
		outputNames  []string
		outputShapes []ort.Shape
	)
	switch typ {
	case model.MoveNet:
		inputName = moveNetInput
		outputNames = []string{moveNetOutput}
		outputShapes = []ort.Shape{ort.NewShape(1, 1, cocoKeypoints, 3)}
	case model.PoseNet:
		d.grid = 1 + (cfg.InputSize-1)/cfg.OutputStride
		g := int64(d.grid)
		inputName = poseNetInput
		outputNames = []string{poseNetHeatmaps, poseNetOffsets}
		outputShapes = []ort.Shape{
			ort.NewShape(1, g, g, cocoKeypoints),
			ort.NewShape(1, g, g, 2*cocoKeypoints),
		}
	case model.BlazePose:
		inputName = blazePoseInput
		outputNames = []string{blazePoseOutput}
		outputShapes = []ort.Shape{ort.NewShape(1, blazePoseKeypoints*blazePoseFields)}
	default:
		d.destroyTensors()
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedModel, typ)
	}

	for _, shape := range outputShapes {
		out, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			d.destroyTensors()
			return nil, fmt.Errorf("posepool: allocate output tensor: %w", err)
		}
		d.outputs = append(d.outputs, out)
	}

	inputs := []ort.ArbitraryTensor{d.input}
	outputs := make([]ort.ArbitraryTensor, len(d.outputs))
	for i, out := range d.outputs {
		outputs[i] = out
	}
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputName}, outputNames, inputs, outputs, nil)
	if err != nil {
		d.destroyTensors()
		return nil, fmt.Errorf("posepool: create session for %s: %w", modelPath, err)
	}
	d.session = session
	return d, nil
}

// Detect resizes the frame into the bound input tensor, runs the session,
// and decodes the bound outputs. The reported inference time covers the
// session run only.
func (d *detector) Detect(ctx context.Context, frame model.Frame) (*model.Detection, error) {
	pixels, err := model.PreprocessNHWC(frame, d.cfg.InputSize)
	if err != nil {
		return nil, err
	}
	copy(d.input.GetData(), pixels)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPrediction, err)
	}
	elapsed := time.Since(start)

	var pose model.Pose
	switch d.typ {
	case model.MoveNet:
		pose = model.DecodeMoveNet(d.outputs[0].GetData())
	case model.PoseNet:
		pose = model.DecodePoseNet(
			d.outputs[0].GetData(), d.outputs[1].GetData(),
			d.grid, d.grid, d.cfg.OutputStride, d.cfg.InputSize,
		)
	case model.BlazePose:
		pose = model.DecodeBlazePose(d.outputs[0].GetData(), d.cfg.InputSize)
	}

	return &model.Detection{
		Poses:         []model.Pose{pose},
		InferenceTime: elapsed,
	}, nil
}

// Close releases the session and its bound tensors.
func (d *detector) Close() error {
	if d.session != nil {
		_ = d.session.Destroy()
		d.session = nil
	}
	d.destroyTensors()
	return nil
}

func (d *detector) destroyTensors() {
	if d.input != nil {
		_ = d.input.Destroy()
		d.input = nil
	}
	for _, out := range d.outputs {
		_ = out.Destroy()
	}
	d.outputs = nil
}
