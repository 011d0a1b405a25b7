package secure

import (
	"fmt"

	"github.com/ford-at-home/storygen/store"
)

// Codec encrypts what an inner codec produces. Give it to the shared and
// durable tiers so sessions are sealed before they leave the process; L1
// holds plaintext.
type Codec struct {
	inner store.Codec
	keys  *Keyring
}

// NewCodec wraps inner, which defaults to store.JSONCodec.
func NewCodec(keys *Keyring, inner store.Codec) *Codec {
	if inner == nil {
		inner = store.JSONCodec{}
	}
	return &Codec{inner: inner, keys: keys}
}

// Marshal implements store.Codec.
func (c *Codec) Marshal(v any) ([]byte, error) {
	plain, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	sealed, err := c.keys.Seal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}
	return sealed, nil
}

// Unmarshal implements store.Codec.
func (c *Codec) Unmarshal(data []byte, v any) error {
	plain, err := c.keys.Open(data)
	if err != nil {
		return fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return c.inner.Unmarshal(plain, v)
}
