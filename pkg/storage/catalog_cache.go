package storage

import (
	"encoding/json"
	"fmt"

	"github.com/coriolis-mq/coriolis/pkg/flags"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCatalogCache = []byte("app_catalog_cache")
	keyCatalogSnapshot = []byte("snapshot")
)

// cachedProperties is the wire-safe projection of flags.Properties
// persisted to the catalog cache. MigrationRef is a declared name, not
// a func value, so it round-trips through JSON like any other field.
type cachedProperties struct {
	Desc         string       `json:"desc"`
	DependsOn    []flags.Name `json:"depends_on"`
	MigrationRef flags.Name   `json:"migration_ref,omitempty"`
	Stability    string       `json:"stability"`
}

// CatalogCache persists the last successfully computed AppCatalog
// declarations, so a node that restarts with a temporarily-failing
// computed catalog (spec §4.3's "computed" form) can still answer
// list()/is_supported() from the last known-good declarations until
// the catalog recovers, rather than reporting zero supported flags.
type CatalogCache struct {
	db *bolt.DB
}

// NewCatalogCache shares the bbolt handle opened by a
// BoltEnabledStore, since both live in the same node-local database.
func NewCatalogCache(store *BoltEnabledStore) (*CatalogCache, error) {
	err := store.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCatalogCache)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create catalog cache bucket: %w", err)
	}
	return &CatalogCache{db: store.db}, nil
}

// Save overwrites the cached declarations.
func (c *CatalogCache) Save(declared map[flags.Name]flags.Properties) error {
	wire := make(map[string]cachedProperties, len(declared))
	for name, props := range declared {
		wire[string(name)] = cachedProperties{Desc: props.Desc, DependsOn: props.DependsOn, MigrationRef: props.MigrationRef, Stability: props.Stability}
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("storage: marshal catalog cache: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCatalogCache).Put(keyCatalogSnapshot, raw)
	})
}

// Load returns the last cached declarations, or an empty map if none
// have been saved yet.
func (c *CatalogCache) Load() (map[flags.Name]flags.Properties, error) {
	out := make(map[flags.Name]flags.Properties)
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCatalogCache).Get(keyCatalogSnapshot)
		if raw == nil {
			return nil
		}
		var wire map[string]cachedProperties
		if err := json.Unmarshal(raw, &wire); err != nil {
			return err
		}
		for name, props := range wire {
			out[flags.Name(name)] = flags.Properties{Desc: props.Desc, DependsOn: props.DependsOn, MigrationRef: props.MigrationRef, Stability: props.Stability}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: load catalog cache: %w", err)
	}
	return out, nil
}
