package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/appkit/internal/errs"
	"github.com/dgraph-io/badger/v3"
)

// Badger backs the general partition with an embedded Badger database.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// NewBadger opens (or creates) a Badger database under dir.
func NewBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

func (s *Badger) Get(_ context.Context, key string) (string, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", errs.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("badger get %q: %w", key, err)
	}
	return string(value), nil
}

func (s *Badger) Set(_ context.Context, key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}

func (s *Badger) Remove(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %q: %w", key, err)
	}
	return nil
}

func (s *Badger) Close() error { return s.db.Close() }
