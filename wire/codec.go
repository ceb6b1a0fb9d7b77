package wire

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes frames and payloads. The codec is negotiated at dial time
// and used symmetrically for the lifetime of the connection.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return "msgpack" }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// JSON returns the default wire codec.
func JSON() Codec { return jsonCodec{} }

// Msgpack returns the binary wire codec.
func Msgpack() Codec { return msgpackCodec{} }

// CodecByName resolves a codec from its configured name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec: %s", name)
}

// EncodeFrame builds a frame around a payload, serializing the payload with
// the same codec used for the envelope.
func EncodeFrame(c Codec, frame Frame, payload any) ([]byte, error) {
	if payload != nil {
		buf, err := c.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", frame.Type, err)
		}
		frame.Payload = buf
	}
	return c.Marshal(frame)
}

// DecodePayload deserializes a frame's payload into out.
func DecodePayload(c Codec, frame *Frame, out any) error {
	if len(frame.Payload) == 0 {
		return fmt.Errorf("frame %s has no payload", frame.Type)
	}
	return c.Unmarshal(frame.Payload, out)
}
