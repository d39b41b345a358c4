// Package wire implements the posepool worker protocol — the message
// envelope exchanged between a channel and its worker process, the payload
// types it carries, pluggable codecs (msgpack by default, JSON available),
// and length-prefixed stream framing over stdin/stdout.
package wire

import (
	"encoding/json"
	"time"

	"github.com/poseworks/posepool/model"
)

// Type categorizes a message.
type Type string

// Request types (caller → worker).
const (
	TypeInitialize Type = "initialize"
	TypeLoadModel  Type = "loadModel"
	TypePredict    Type = "predict"
	TypePing       Type = "ping"
)

// Response and notification types (worker → caller).
const (
	TypeResponse Type = "response"
	TypeError    Type = "error"
	TypeEvent    Type = "event"
)

// Message is the protocol envelope. ID is present on request/response
// pairs — a response carries the id of the request it settles — and absent
// on unsolicited event notifications. Payload bytes are encoded with the
// same codec as the envelope.
type Message struct {
	ID      string          `json:"id,omitempty" msgpack:"id,omitempty"`
	Type    Type            `json:"type" msgpack:"type"`
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Error   string          `json:"error,omitempty" msgpack:"error,omitempty"`
}

// IsEvent reports whether the message is an unsolicited notification
// rather than a solicited response: it carries no correlation id.
func (m *Message) IsEvent() bool { return m.ID == "" }

// EventName identifies an unsolicited worker notification.
type EventName string

// Event names posted by workers and the pool.
const (
	EventInitialized        EventName = "initialized"
	EventModelLoaded        EventName = "model-loaded"
	EventInferenceComplete  EventName = "inference-complete"
	EventWorkerReady        EventName = "worker-ready"
	EventWorkerFailed       EventName = "worker-failed"
	EventError              EventName = "error"
	EventUnhandledRejection EventName = "unhandled-rejection"
)

// Event is the payload of a TypeEvent message.
type Event struct {
	Name EventName      `json:"name" msgpack:"name"`
	Data map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
}

// LoadModelPayload is the payload of a loadModel request.
type LoadModelPayload struct {
	ModelType string        `json:"modelType" msgpack:"modelType"`
	Config    *model.Config `json:"config,omitempty" msgpack:"config,omitempty"`
}

// LoadModelResult acknowledges a completed model load.
type LoadModelResult struct {
	ModelType string       `json:"modelType" msgpack:"modelType"`
	Config    model.Config `json:"config" msgpack:"config"`
	LoadTime  int64        `json:"loadTimeMs" msgpack:"loadTimeMs"`
}

// PredictPayload is the payload of a predict request.
type PredictPayload struct {
	Frame model.Frame `json:"frame" msgpack:"frame"`
}

// Dimensions describes the pixel dimensions of a predict input.
type Dimensions struct {
	Width  int `json:"width" msgpack:"width"`
	Height int `json:"height" msgpack:"height"`
}

// PredictResult is the payload of a predict response. InferenceTimeMs
// covers the inference call only, never the message round trip.
type PredictResult struct {
	Poses           []model.Pose `json:"poses" msgpack:"poses"`
	InferenceTimeMs float64      `json:"inferenceTime" msgpack:"inferenceTime"`
	ModelType       string       `json:"modelType" msgpack:"modelType"`
	Timestamp       time.Time    `json:"timestamp" msgpack:"timestamp"`
	InputDimensions Dimensions   `json:"inputDimensions" msgpack:"inputDimensions"`
}

// InitializeResult acknowledges a completed dependency bootstrap.
type InitializeResult struct {
	Source string `json:"source" msgpack:"source"`
}

// PingResult is the payload of a ping response.
type PingResult struct {
	State string `json:"state" msgpack:"state"`
}

// NewRequest builds a request message, encoding payload with codec.
// A nil payload produces an empty payload field.
func NewRequest(codec Codec, id string, typ Type, payload any) (*Message, error) {
	m := &Message{ID: id, Type: typ}
	if payload != nil {
		raw, err := codec.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.Payload = raw
	}
	return m, nil
}

// NewResponse builds a response settling the request with the given id.
func NewResponse(codec Codec, id string, payload any) (*Message, error) {
	m := &Message{ID: id, Type: TypeResponse}
	if payload != nil {
		raw, err := codec.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.Payload = raw
	}
	return m, nil
}

// NewError builds an error response settling the request with the given id.
func NewError(id string, err error) *Message {
	return &Message{ID: id, Type: TypeError, Error: err.Error()}
}

// NewEvent builds an unsolicited event notification (no correlation id).
func NewEvent(codec Codec, name EventName, data map[string]any) (*Message, error) {
	raw, err := codec.Marshal(Event{Name: name, Data: data})
	if err != nil {
		return nil, err
	}
	return &Message{Type: TypeEvent, Payload: raw}, nil
}
