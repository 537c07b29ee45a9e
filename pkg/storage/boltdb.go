package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/coriolis-mq/coriolis/pkg/flags"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEnabledFlags = []byte("enabled_flags")
	keyEnabledNames    = []byte("names")
)

// BoltEnabledStore implements flags.EnabledStore (spec §4.2, §6) over
// a single bbolt bucket holding one key whose value is a JSON array of
// flag names. bbolt commits a transaction atomically, so write()
// already satisfies the "SHOULD write-then-rename" intent of spec §6
// without a separate temp-file dance.
type BoltEnabledStore struct {
	db *bolt.DB
}

// NewBoltEnabledStore opens (creating if absent) the bbolt database
// under dataDir and ensures the enabled_flags bucket exists.
func NewBoltEnabledStore(dataDir string) (*BoltEnabledStore, error) {
	dbPath := filepath.Join(dataDir, "coriolis.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEnabledFlags)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create bucket: %w", err)
	}

	return &BoltEnabledStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *BoltEnabledStore) Close() error {
	return s.db.Close()
}

// Read implements flags.EnabledStore.
func (s *BoltEnabledStore) Read() ([]flags.Name, error) {
	var names []flags.Name
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEnabledFlags).Get(keyEnabledNames)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &names)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: read enabled flags: %w", err)
	}
	return names, nil
}

// Write implements flags.EnabledStore, replacing the persisted set in
// a single bbolt transaction.
func (s *BoltEnabledStore) Write(names []flags.Name) error {
	raw, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("storage: marshal enabled flags: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnabledFlags).Put(keyEnabledNames, raw)
	})
	if err != nil {
		return fmt.Errorf("storage: write enabled flags: %w", err)
	}
	return nil
}
