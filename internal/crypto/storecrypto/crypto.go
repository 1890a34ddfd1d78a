// Package storecrypto contains primitives for sealing secure-partition entries.
package storecrypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Params
const (
	KeyLen = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKey derives a sealing key from a secret and salt using Argon2id.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// Seal encrypts plaintext with XChaCha20-Poly1305 and a random nonce.
// aad binds the ciphertext to its store key so entries cannot be swapped
// between keys on disk.
func Seal(key, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, aad)...)
	return out, nil
}

// Open decrypts a sealed entry using the same AAD as during sealing.
func Open(key, aad, sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	ct := sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}
