// Package secrets encrypts the LLM provider API keys the llm package's
// connectors need at rest, using a single operator-supplied master key
// rather than a per-tenant key hierarchy (there is one operator, not many
// tenant orgs, so the DEK layer the teacher carries has no one to key on).
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Encryptor wraps a 256-bit master key for AES-256-GCM encrypt/decrypt of
// provider API keys before they're written to config or the environment.
type Encryptor struct {
	key []byte
}

// NewEncryptor decodes a base64-encoded 256-bit key. Pass the value of the
// ENCRYPTION_KEY environment variable.
func NewEncryptor(masterKeyB64 string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 256 bits (32 bytes), got %d", len(key))
	}
	return &Encryptor{key: key}, nil
}

// Encrypt seals plaintext with AES-256-GCM, returning a base64-encoded
// nonce||ciphertext blob suitable for storing in an env var such as
// OPENAI_API_KEY_ENCRYPTED.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(blobB64 string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// DecryptString is a convenience wrapper returning plaintext as a string,
// for loading a provider API key straight into an llm connector constructor.
func (e *Encryptor) DecryptString(blobB64 string) (string, error) {
	plaintext, err := e.Decrypt(blobB64)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
