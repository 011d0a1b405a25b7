package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest secret a Keyring accepts.
const MinSecretLength = 16

const (
	formatVersion byte = 1
	keyIDSize          = 4
	headerSize         = 1 + keyIDSize
	hkdfInfo           = "storygen session payload v1"
)

var (
	// ErrNoKeys is returned when a keyring has no secrets.
	ErrNoKeys = errors.New("keyring has no keys")

	// ErrUnknownKey is returned when a payload was sealed with a key the
	// keyring does not hold.
	ErrUnknownKey = errors.New("payload sealed with an unknown key")

	// ErrMalformed is returned for payloads that are too short or carry an
	// unsupported format version.
	ErrMalformed = errors.New("malformed sealed payload")
)

type key struct {
	id   uint32
	aead cipher.AEAD
}

// Keyring holds the process-wide payload encryption keys. The primary key
// seals; every key opens. Each secret is stretched with HKDF-SHA256 into an
// XChaCha20-Poly1305 key, and sealed payloads carry the id of the key that
// sealed them:
//
//	version(1) | key id(4) | nonce(24) | ciphertext+tag
//
// The header is authenticated as additional data.
type Keyring struct {
	mu      sync.RWMutex
	keys    map[uint32]key
	primary uint32
}

// NewKeyring creates a keyring from secrets. The first secret is primary;
// the rest only decrypt, which is how retired secrets stay readable.
func NewKeyring(secrets ...[]byte) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, ErrNoKeys
	}

	k := &Keyring{keys: make(map[uint32]key, len(secrets))}
	for i, secret := range secrets {
		derived, err := deriveKey(secret)
		if err != nil {
			return nil, fmt.Errorf("secret %d: %w", i, err)
		}
		if _, dup := k.keys[derived.id]; !dup {
			k.keys[derived.id] = derived
		}
		if i == 0 {
			k.primary = derived.id
		}
	}
	return k, nil
}

// NewKeyringFromStrings is NewKeyring for secrets read from configuration.
func NewKeyringFromStrings(secrets []string) (*Keyring, error) {
	raw := make([][]byte, 0, len(secrets))
	for _, s := range secrets {
		raw = append(raw, []byte(s))
	}
	return NewKeyring(raw...)
}

func deriveKey(secret []byte) (key, error) {
	if len(secret) < MinSecretLength {
		return key{}, fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
	}

	material := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), material); err != nil {
		return key{}, fmt.Errorf("failed to derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(material)
	if err != nil {
		return key{}, fmt.Errorf("failed to create cipher: %w", err)
	}

	sum := sha256.Sum256(material)
	return key{id: binary.BigEndian.Uint32(sum[:keyIDSize]), aead: aead}, nil
}

// Rotate makes secret the primary key. Earlier keys keep opening payloads
// sealed under them.
func (k *Keyring) Rotate(secret []byte) error {
	derived, err := deriveKey(secret)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.keys[derived.id]; !ok {
		k.keys[derived.id] = derived
	}
	k.primary = derived.id
	return nil
}

// Len returns the number of keys held.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// PrimaryID returns the id of the sealing key.
func (k *Keyring) PrimaryID() uint32 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.primary
}

// Seal encrypts plaintext under the primary key.
func (k *Keyring) Seal(plaintext []byte) ([]byte, error) {
	k.mu.RLock()
	primary := k.keys[k.primary]
	k.mu.RUnlock()

	nonceSize := primary.aead.NonceSize()
	out := make([]byte, headerSize+nonceSize, headerSize+nonceSize+len(plaintext)+primary.aead.Overhead())
	out[0] = formatVersion
	binary.BigEndian.PutUint32(out[1:headerSize], primary.id)

	nonce := out[headerSize:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return primary.aead.Seal(out, nonce, plaintext, out[:headerSize]), nil
}

// Open decrypts a payload produced by Seal with any key in the ring.
func (k *Keyring) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < headerSize+chacha20poly1305.NonceSizeX || sealed[0] != formatVersion {
		return nil, ErrMalformed
	}

	id := binary.BigEndian.Uint32(sealed[1:headerSize])
	k.mu.RLock()
	kk, ok := k.keys[id]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %08x", ErrUnknownKey, id)
	}

	nonceEnd := headerSize + kk.aead.NonceSize()
	plaintext, err := kk.aead.Open(nil, sealed[headerSize:nonceEnd], sealed[nonceEnd:], sealed[:headerSize])
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return plaintext, nil
}
