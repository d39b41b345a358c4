package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/poseworks/posepool"
	"github.com/poseworks/posepool/channel"
	"github.com/poseworks/posepool/model"
)

// maxImageBytes bounds predict request bodies.
const maxImageBytes = 32 << 20

type server struct {
	client *posepool.Client
	logger *slog.Logger
}

func newServer(client *posepool.Client, logger *slog.Logger) http.Handler {
	s := &server{client: client, logger: logger}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/model", s.handleLoadModel).Methods(http.MethodPost)
	r.HandleFunc("/v1/predict", s.handlePredict).Methods(http.MethodPost)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.client.Status().Initialized {
		http.Error(w, "pool not initialized", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.client.Status())
}

func (s *server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelType string        `json:"modelType"`
		Config    *model.Config `json:"config,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.client.LoadModel(r.Context(), req.ModelType, req.Config); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"modelType": req.ModelType})
}

func (s *server) handlePredict(w http.ResponseWriter, r *http.Request) {
	frame, err := decodeFrame(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.client.Predict(r.Context(), frame)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// decodeFrame turns a request body — JPEG or PNG — into an RGBA frame.
func decodeFrame(r *http.Request) (model.Frame, error) {
	img, _, err := image.Decode(http.MaxBytesReader(nil, r.Body, maxImageBytes))
	if err != nil {
		return model.Frame{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || bounds.Min != (image.Point{}) {
		converted := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(converted, converted.Bounds(), img, bounds.Min, draw.Src)
		rgba = converted
	}
	return model.Frame{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pixels: rgba.Pix,
	}, nil
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var remote *channel.RemoteError
	switch {
	case errors.Is(err, posepool.ErrThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, posepool.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, posepool.ErrNotInitialized), errors.Is(err, posepool.ErrPoolClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, posepool.ErrWorkerCrash):
		status = http.StatusBadGateway
	case errors.As(err, &remote):
		status = http.StatusUnprocessableEntity
	}
	s.logger.Warn("request failed", slog.Int("status", status), slog.String("error", err.Error()))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
	}
}
