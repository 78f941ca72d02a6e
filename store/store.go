// Package store implements the durable key/value store backing the consensus log.
package store

import (
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var (
	ErrNotFound = errors.New("data was not found")
)

// Store is an append-mostly key/value store. Writes are synced before they return.
// It is safe for concurrent use.
type Store struct {
	pebbleDB *pebble.DB
}

// New opens (or creates) a store at path.
func New(path string) (*Store, error) {
	pebbleDB, err := pebble.Open(path, &pebble.Options{
		ErrorIfExists: false,
	})
	if err != nil {
		return nil, err
	}
	return &Store{pebbleDB: pebbleDB}, nil
}

// NewInMemory returns a store that keeps everything in memory.
func NewInMemory() (*Store, error) {
	pebbleDB, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &Store{pebbleDB: pebbleDB}, nil
}

func (s *Store) Close() error {
	return s.pebbleDB.Close()
}

// Write stores value under key and syncs it to disk.
func (s *Store) Write(key, value []byte) error {
	return s.pebbleDB.Set(key, value, pebble.Sync)
}

// Read returns a copy of the value stored under key, or ErrNotFound.
func (s *Store) Read(key []byte) ([]byte, error) {
	data, closer, err := s.pebbleDB.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return copied, nil
}

// Has reports whether key is present.
func (s *Store) Has(key []byte) (bool, error) {
	_, err := s.Read(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
