package payload

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/landscape/pkg/canon"
)

var bucketPayloads = []byte("payloads")

// BoltStore is a bbolt-backed Store, one bucket keyed by content hash,
// mirroring the teacher's bucket-per-entity BoltStore pattern.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a payload store at
// <dataDir>/payloads.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "payloads.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("payload: failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPayloads)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("payload: failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put stores data under its SHA-256 content hash. A payload already
// present under that hash is left untouched.
func (s *BoltStore) Put(data []byte) (string, error) {
	hash := canon.HashBytes(data)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPayloads)
		if b.Get([]byte(hash)) != nil {
			return nil
		}
		stored := make([]byte, len(data))
		copy(stored, data)
		return b.Put([]byte(hash), stored)
	})
	if err != nil {
		return "", fmt.Errorf("payload: put failed: %w", err)
	}
	return hash, nil
}

// Get retrieves the payload stored under hash.
func (s *BoltStore) Get(hash string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPayloads)
		data := b.Get([]byte(hash))
		if data == nil {
			return ErrNotFound
		}
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Has reports whether a payload is stored under hash.
func (s *BoltStore) Has(hash string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPayloads)
		found = b.Get([]byte(hash)) != nil
		return nil
	})
	return found, err
}

// Delete removes the payload stored under hash, if any.
func (s *BoltStore) Delete(hash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPayloads)
		return b.Delete([]byte(hash))
	})
}
