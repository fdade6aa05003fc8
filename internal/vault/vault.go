// SPDX-License-Identifier: Apache-2.0

// Package vault seals and opens connection secrets at rest using a
// symmetric AEAD (AES-256-GCM) with a local key file.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// KeySize is the size, in bytes, of the AEAD key this vault uses.
const KeySize = 32

// ErrDecryptionFailed is returned by Open when the ciphertext is corrupt or
// was sealed under a different key. It is distinguishable from I/O errors
// so callers can tell "wrong key" apart from "couldn't read the file".
var ErrDecryptionFailed = errors.New("vault: decryption failed")

// Vault seals and opens byte payloads with AES-256-GCM under a single key.
type Vault struct {
	key []byte
}

// Open loads the vault key from path, generating a fresh random key on
// first use and persisting it with owner-only permissions.
func Open(path string) (*Vault, error) {
	key, err := loadOrCreateKey(path)
	if err != nil {
		return nil, err
	}
	return &Vault{key: key}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("vault: key file %s has unexpected length %d", path, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading vault key: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating vault key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating vault key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("writing vault key: %w", err)
	}

	return key, nil
}

func (v *Vault) cipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := v.cipher()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	gcm, err := v.cipher()
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// SealString is a convenience wrapper around Seal for password fields.
func (v *Vault) SealString(s string) ([]byte, error) {
	return v.Seal([]byte(s))
}

// OpenString is a convenience wrapper around Open for password fields.
func (v *Vault) OpenString(sealed []byte) (string, error) {
	plaintext, err := v.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
