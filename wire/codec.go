package wire

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec defines the serialization contract for protocol messages and
// their payloads. The envelope and payload always use the same codec.
type Codec interface {
	// Encode serializes a message envelope to bytes.
	Encode(m *Message) ([]byte, error)

	// Decode deserializes bytes into a message envelope.
	Decode(data []byte) (*Message, error)

	// Marshal serializes a payload value.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a payload into v.
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Codec name constants.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to msgpack: predict payloads
// carry raw pixel buffers, which msgpack encodes as binary instead of
// base64 text.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameJSON:
		return &JSONCodec{}
	default:
		return &MsgpackCodec{}
	}
}

// MsgpackCodec encodes messages as MessagePack.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(m *Message) ([]byte, error) { return msgpack.Marshal(m) }

func (c *MsgpackCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (c *MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }

// JSONCodec encodes messages as JSON. Useful for debugging a worker by
// hand; pixel buffers pay the base64 cost.
type JSONCodec struct{}

func (c *JSONCodec) Encode(m *Message) ([]byte, error) { return json.Marshal(m) }

func (c *JSONCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (c *JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (c *JSONCodec) Name() string { return CodecNameJSON }
