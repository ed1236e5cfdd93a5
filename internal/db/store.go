package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// Store is a badger database with keys grouped by namespace prefix. Reads
// and writes go through one transaction per call.
type Store struct {
	db *badger.DB
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger"))
	opts.Logger = nil

	return open(opts)
}

// NewMemoryStore opens a store that lives only as long as the process.
func NewMemoryStore() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetMany reads keys in one transaction. Missing keys are absent from the
// returned map.
func (s *Store) GetMany(namespace string, keys ...string) (map[string][]byte, error) {
	values := make(map[string][]byte, len(keys))

	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(namespace + key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			values[key] = val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// SetMany writes all entries atomically.
func (s *Store) SetMany(namespace string, entries map[string][]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for key, value := range entries {
			if err := txn.Set([]byte(namespace+key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteMany removes all keys atomically. Deleting a missing key is not an
// error.
func (s *Store) DeleteMany(namespace string, keys ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(namespace + key)); err != nil {
				return err
			}
		}
		return nil
	})
}
