package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/appkit/internal/crypto/storecrypto"
	"github.com/and161185/appkit/internal/errs"
)

// Secure backs the secure partition with one sealed file per key.
// Each value is encrypted with XChaCha20-Poly1305; the store key is the
// AAD, so a file renamed to another key fails to open.
type Secure struct {
	mu  sync.Mutex
	dir string
	key []byte
}

var _ Store = (*Secure)(nil)

// NewSecure creates a secure file store under dir with a KeyLen-byte
// sealing key.
func NewSecure(dir string, key []byte) (*Secure, error) {
	if len(key) != storecrypto.KeyLen {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", storecrypto.KeyLen, len(key))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secure dir: %w", err)
	}
	return &Secure{dir: dir, key: key}, nil
}

func (s *Secure) path(key string) string {
	return filepath.Join(s.dir, key+".sealed")
}

func (s *Secure) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", errs.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %q: %w", key, err)
	}
	plain, err := storecrypto.Open(s.key, []byte(key), sealed)
	if err != nil {
		return "", fmt.Errorf("unseal %q: %w", key, err)
	}
	return string(plain), nil
}

func (s *Secure) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed, err := storecrypto.Seal(s.key, []byte(key), []byte(value))
	if err != nil {
		return fmt.Errorf("seal %q: %w", key, err)
	}
	if err := os.WriteFile(s.path(key), sealed, 0o600); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (s *Secure) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (s *Secure) Close() error { return nil }

// LoadOrCreateKey reads the sealing key from path, generating and
// persisting a fresh one (0600) on first use.
func LoadOrCreateKey(path string) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil {
		if len(b) != storecrypto.KeyLen {
			return nil, fmt.Errorf("key file %s: bad length %d", path, len(b))
		}
		return b, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key, err := storecrypto.Rand(storecrypto.KeyLen)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
