package secure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	secretA = []byte("first-secret-0123456789")
	secretB = []byte("second-secret-0123456789")
)

func TestNewKeyring_RejectsBadSecrets(t *testing.T) {
	_, err := NewKeyring()
	assert.ErrorIs(t, err, ErrNoKeys)

	_, err = NewKeyring([]byte("too-short"))
	assert.Error(t, err)

	_, err = NewKeyringFromStrings([]string{string(secretA), "short"})
	assert.Error(t, err)
}

func TestKeyring_SealOpen(t *testing.T) {
	k, err := NewKeyring(secretA)
	require.NoError(t, err)

	plain := []byte(`{"core_idea":"a bakery in Church Hill"}`)
	sealed, err := k.Seal(plain)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, []byte("Church Hill")))

	again, err := k.Seal(plain)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "fresh nonce per seal")

	opened, err := k.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestKeyring_RejectsTampering(t *testing.T) {
	k, err := NewKeyring(secretA)
	require.NoError(t, err)
	sealed, err := k.Seal([]byte("payload"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		target error
	}{
		{name: "short", mutate: func(b []byte) []byte { return b[:10] }, target: ErrMalformed},
		{name: "version", mutate: func(b []byte) []byte { b[0] = 9; return b }, target: ErrMalformed},
		{name: "key id", mutate: func(b []byte) []byte { b[1] ^= 0xff; return b }, target: ErrUnknownKey},
		{name: "ciphertext", mutate: func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := k.Open(tt.mutate(bytes.Clone(sealed)))
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestKeyring_Rotate(t *testing.T) {
	k, err := NewKeyring(secretA)
	require.NoError(t, err)
	oldID := k.PrimaryID()

	before, err := k.Seal([]byte("before rotation"))
	require.NoError(t, err)

	require.NoError(t, k.Rotate(secretB))
	assert.NotEqual(t, oldID, k.PrimaryID())
	assert.Equal(t, 2, k.Len())

	after, err := k.Seal([]byte("after rotation"))
	require.NoError(t, err)

	for _, sealed := range [][]byte{before, after} {
		_, err := k.Open(sealed)
		assert.NoError(t, err)
	}

	onlyA, err := NewKeyring(secretA)
	require.NoError(t, err)
	_, err = onlyA.Open(after)
	assert.ErrorIs(t, err, ErrUnknownKey)

	// Configured order decides the primary; both stay readable.
	restarted, err := NewKeyring(secretB, secretA)
	require.NoError(t, err)
	for _, sealed := range [][]byte{before, after} {
		_, err := restarted.Open(sealed)
		assert.NoError(t, err)
	}

	assert.Error(t, k.Rotate([]byte("short")))
}
