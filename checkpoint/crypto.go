package checkpoint

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ragline/ragline/types"
)

const keyInfo = "ragline/checkpoint/v1"

// Codec seals AgentState with AES-256-GCM. The key is derived from the
// out-of-band secret with HKDF-SHA256 so callers can hand us a passphrase
// of any length. The nonce is prepended to each sealed blob.
type Codec struct {
	aead cipher.AEAD
}

func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("checkpoint secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive checkpoint key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init checkpoint cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init checkpoint gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

func (c *Codec) Seal(state types.AgentState) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, fmt.Errorf("codec is not initialized")
	}
	plain, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate checkpoint nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *Codec) Open(blob []byte) (types.AgentState, error) {
	if c == nil || c.aead == nil {
		return types.AgentState{}, fmt.Errorf("codec is not initialized")
	}
	if len(blob) < c.aead.NonceSize() {
		return types.AgentState{}, ErrDecrypt
	}
	nonce, ciphertext := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return types.AgentState{}, ErrDecrypt
	}
	var state types.AgentState
	if err := json.Unmarshal(plain, &state); err != nil {
		return types.AgentState{}, ErrDecrypt
	}
	return state, nil
}
