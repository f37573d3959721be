package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("chatctl")

// BoltStore keeps every key in a single bucket of an embedded BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bolt database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load reads key from the bucket.
func (s *BoltStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get([]byte(key)); v != nil {
			// v is only valid inside the transaction.
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bolt load %s: %w", key, err)
	}
	return out, out != nil, nil
}

// Save writes key in its own transaction.
func (s *BoltStore) Save(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("bolt save %s: %w", key, err)
	}
	return nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
