// Package storage provides the local credential store: a string-keyed
// contract with a secure and a general partition behind it.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/and161185/appkit/internal/errs"
)

// Fixed credential-store keys. Token material lives in the secure
// partition; everything else in the general one. Callers choose the
// partition by field sensitivity, never by convenience.
const (
	KeyAccessToken   = "accessToken"
	KeyRefreshToken  = "refreshToken"
	KeyTokenExpireAt = "tokenExpireAt"
	KeyUser          = "user"
)

// Store is the contract both partitions expose. Backends may differ
// (encrypted files vs an embedded KV); the contract does not.
// Get returns errs.ErrNotFound for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// GetObject reads a JSON-serialized value from the store.
func GetObject[T any](ctx context.Context, s Store, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	return &v, nil
}

// SetObject writes a value to the store as JSON.
func SetObject[T any](ctx context.Context, s Store, key string, v *T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Set(ctx, key, string(raw))
}

// Memory is an in-process Store for tests and throwaway sessions.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{m: map[string]string{}}
}

func (s *Memory) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

func (s *Memory) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *Memory) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *Memory) Close() error { return nil }
