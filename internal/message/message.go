// Package message defines the wire envelope exchanged with the master.
//
// Every frame is a three-element msgpack array [type, data, node_id]. The
// payload map is free-form; the master encodes numbers at whatever width its
// serializer picks, so readers go through the coercion helpers instead of
// type-asserting directly.
package message

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Inbound frame types.
const (
	TypeHatch = "hatch"
	TypeStop  = "stop"
	TypeQuit  = "quit"
)

// Outbound frame types.
const (
	TypeClientReady   = "client_ready"
	TypeClientStopped = "client_stopped"
	TypeHatching      = "hatching"
	TypeHatchComplete = "hatch_complete"
	TypeStats         = "stats"
	TypeHeartbeat     = "heartbeat"
)

// Message is one frame on the master link.
type Message struct {
	Type   string
	Data   map[string]interface{}
	NodeID string
}

// New builds a frame. Data may be nil for types that carry no payload.
func New(msgType string, data map[string]interface{}, nodeID string) *Message {
	return &Message{Type: msgType, Data: data, NodeID: nodeID}
}

var (
	_ msgpack.CustomEncoder = (*Message)(nil)
	_ msgpack.CustomDecoder = (*Message)(nil)
)

// EncodeMsgpack writes the frame as [type, data, node_id].
func (m *Message) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeString(m.Type); err != nil {
		return err
	}
	if m.Data == nil {
		if err := enc.EncodeNil(); err != nil {
			return err
		}
	} else if err := enc.Encode(m.Data); err != nil {
		return err
	}
	return enc.EncodeString(m.NodeID)
}

// DecodeMsgpack reads a [type, data, node_id] array.
func (m *Message) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if n != 3 {
		return fmt.Errorf("decode envelope: expected 3 elements, got %d", n)
	}
	if m.Type, err = dec.DecodeString(); err != nil {
		return fmt.Errorf("decode type: %w", err)
	}
	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	if m.Data, err = normalizeMap(raw); err != nil {
		return err
	}
	if m.NodeID, err = dec.DecodeString(); err != nil {
		return fmt.Errorf("decode node_id: %w", err)
	}
	return nil
}

// Marshal encodes a frame for the wire.
func Marshal(m *Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

// Unmarshal decodes a frame received from the wire.
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	if err := msgpack.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

func normalizeMap(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			s, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("decode data: non-string key %v", key)
			}
			out[s] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode data: expected map or nil, got %T", raw)
	}
}

// Float64Field reads a numeric payload field, coercing any msgpack numeric
// width. Returns an error when the field is missing or not a number.
func Float64Field(data map[string]interface{}, key string) (float64, error) {
	v, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("field %q is %T, want number", key, v)
	}
}

// Int64Field reads an integral payload field, coercing any msgpack numeric
// width. Fractional floats are rejected.
func Int64Field(data map[string]interface{}, key string) (int64, error) {
	f, err := Float64Field(data, key)
	if err != nil {
		return 0, err
	}
	n := int64(f)
	if float64(n) != f {
		return 0, fmt.Errorf("field %q is not integral: %v", key, f)
	}
	return n, nil
}
