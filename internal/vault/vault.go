// Package vault seals biometric templates and TOTP secrets at rest with a
// master key derived from operator-supplied key material.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Purposes are bound into the GCM additional data so a blob sealed for one
// column cannot be opened as another.
const (
	PurposeIrisTemplate = "iris_template"
	PurposeFaceTemplate = "face_template"
	PurposeTOTPSecret   = "totp_secret"
)

var prefix = []byte("vlt1")

var (
	ErrMasterKeyRequired = errors.New("master key required")
	ErrNotSealed         = errors.New("value is not sealed")
	ErrCiphertext        = errors.New("ciphertext too short")
)

type Config struct {
	MasterKey string
	Salt      string
}

// Vault implements AES-256-GCM sealing under an argon2id-derived key.
type Vault struct {
	aead cipher.AEAD
}

func New(cfg Config) (*Vault, error) {
	if cfg.MasterKey == "" {
		return nil, ErrMasterKeyRequired
	}
	salt := cfg.Salt
	if salt == "" {
		salt = "iris-ballot-vault"
	}

	block, err := aes.NewCipher(deriveKey(cfg.MasterKey, salt, 32))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Vault{aead: gcm}, nil
}

// Seal returns prefix || nonce || ciphertext. Empty input stays empty.
func (v *Vault) Seal(purpose string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(prefix)+len(nonce)+len(plaintext)+v.aead.Overhead())
	out = append(out, prefix...)
	out = append(out, nonce...)
	return v.aead.Seal(out, nonce, plaintext, []byte(purpose)), nil
}

func (v *Vault) Open(purpose string, sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}

	data := sealed[len(prefix):]
	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize+v.aead.Overhead() {
		return nil, ErrCiphertext
	}

	plaintext, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(purpose))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, prefix)
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}
