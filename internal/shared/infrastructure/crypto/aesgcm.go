// Package crypto seals credential material at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrCiphertextTooShort is returned when a sealed value is shorter than its nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Encrypter seals and opens values bound to an associated-data label.
// The label (for example a user ID) must match on Decrypt, so a sealed token
// copied onto another user's record fails to open.
type Encrypter interface {
	Encrypt(plaintext, label []byte) ([]byte, error)
	Decrypt(ciphertext, label []byte) ([]byte, error)
}

// AESEncrypter uses AES-256-GCM with a random nonce prefix.
type AESEncrypter struct {
	aead cipher.AEAD
}

// NewAESGCMFromBase64Key creates an AESEncrypter from a base64-encoded 32-byte key.
func NewAESGCMFromBase64Key(encodedKey string) (*AESEncrypter, error) {
	if encodedKey == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESEncrypter{aead: aead}, nil
}

// Encrypt seals plaintext and prepends the nonce.
func (e *AESEncrypter) Encrypt(plaintext, label []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, label), nil
}

// Decrypt opens a nonce-prefixed ciphertext.
func (e *AESEncrypter) Decrypt(ciphertext, label []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	return e.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], label)
}
