package store

import "encoding/json"

// Codec turns values into the bytes written to the shared and durable tiers.
// Wrapping codecs (for example an encrypting one) can be layered over
// JSONCodec.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes values as JSON.
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func codecOrDefault(c Codec) Codec {
	if c == nil {
		return JSONCodec{}
	}
	return c
}
