package signal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/meet/internal/core"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec frames events as {event, payload} envelopes.
type Codec interface {
	Name() string
	Encode(name core.EventName, payload any) ([]byte, error)
	Decode(data []byte) (core.Event, error)
	// MessageType is the websocket frame type the codec writes.
	MessageType() int
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JSONCodec struct{}

func (JSONCodec) Name() string     { return "json" }
func (JSONCodec) MessageType() int { return websocket.TextMessage }

func (JSONCodec) Encode(name core.EventName, payload any) ([]byte, error) {
	env := jsonEnvelope{Event: string(name)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func (JSONCodec) Decode(data []byte) (core.Event, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return core.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return core.Event{}, fmt.Errorf("decode envelope: missing event name")
	}
	return core.NewEvent(core.EventName(env.Event), env.Payload, json.Unmarshal), nil
}

type msgpackEnvelope struct {
	Event   string             `msgpack:"event"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// MsgpackCodec writes binary frames. Payload structs are keyed by their
// json tags so both codecs share one wire vocabulary.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string     { return "msgpack" }
func (MsgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(name core.EventName, payload any) ([]byte, error) {
	env := msgpackEnvelope{Event: string(name)}
	if payload != nil {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(payload); err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		env.Payload = buf.Bytes()
	}
	return msgpack.Marshal(&env)
}

func (MsgpackCodec) Decode(data []byte) (core.Event, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return core.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return core.Event{}, fmt.Errorf("decode envelope: missing event name")
	}
	return core.NewEvent(core.EventName(env.Event), env.Payload, decodeMsgpack), nil
}

func decodeMsgpack(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
