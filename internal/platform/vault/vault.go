// Package vault encrypts third-party credentials at rest.
//
// Envelopes have the form hex(iv):hex(tag):hex(ciphertext) and are sealed
// with AES-256-GCM under a subkey derived from the master key for one purpose,
// so a token envelope can never be opened as a webhook secret and vice versa.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = 32

	ivSize  = 12
	tagSize = 16

	PurposeIntegrationToken = "integration-token"
	PurposeWebhookSecret    = "webhook-secret"
)

var (
	ErrInvalidKey        = errors.New("vault: encryption key must be 32 bytes")
	ErrMalformedEnvelope = errors.New("vault: malformed envelope")
	ErrTampered          = errors.New("vault: authentication failed")
)

type Vault struct {
	aead cipher.AEAD
}

// New derives the purpose subkey from a 32 byte master key.
func New(key []byte, purpose string) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	subkey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte("draftr/"+purpose)), subkey); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}

	return &Vault{aead: aead}, nil
}

func NewFromBase64(encoded, purpose string) (*Vault, error) {
	if encoded == "" {
		return nil, ErrInvalidKey
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return New(key, purpose)
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

func (v *Vault) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrMalformedEnvelope
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrMalformedEnvelope
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformedEnvelope
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedEnvelope
	}

	plaintext, err := v.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrTampered
	}
	return string(plaintext), nil
}
