package member

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"
)

// Bucket names for bbolt storage.
var (
	bucketUUIDToName = []byte("uuid2name")
	bucketNameToUUID = []byte("name2uuid")
)

// Cache is a write-through uuid<->name store so offline members keep a
// stable identity across name changes. Reads are served from memory;
// every mutation is persisted to bbolt immediately.
type Cache struct {
	mu    sync.RWMutex
	bolt  *bbolt.DB
	byUUID map[string]string
	byName map[string]string
}

// OpenCache opens or creates the bbolt member cache and loads it into memory.
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("member: open cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUUIDToName, bucketNameToUUID} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("member: create cache buckets: %w", err)
	}

	c := &Cache{
		bolt:   db,
		byUUID: make(map[string]string),
		byName: make(map[string]string),
	}

	err = db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUUIDToName).ForEach(func(k, v []byte) error {
			c.byUUID[string(k)] = string(v)
			c.byName[string(v)] = string(k)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("member: load cache: %w", err)
	}
	return c, nil
}

// Close closes the underlying bbolt database.
func (c *Cache) Close() error {
	if c.bolt != nil {
		return c.bolt.Close()
	}
	return nil
}

// Put records a uuid->name association (write-through).
func (c *Cache) Put(id, name string) error {
	c.mu.Lock()
	if old, ok := c.byUUID[id]; ok && old != name {
		delete(c.byName, old)
	}
	c.byUUID[id] = name
	c.byName[name] = id
	c.mu.Unlock()

	if c.bolt == nil {
		return nil
	}
	return c.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketUUIDToName).Put([]byte(id), []byte(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketNameToUUID).Put([]byte(name), []byte(id))
	})
}

// Register ensures a player name has a UUID, minting one if unseen.
// Returns the UUID.
func (c *Cache) Register(name string) (string, error) {
	if u := c.UUIDByName(name); u != "" {
		return u, nil
	}
	u := uuid.NewString()
	return u, c.Put(u, name)
}

// NameByUUID returns the last known name for a UUID, or "".
func (c *Cache) NameByUUID(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byUUID[id]
}

// UUIDByName returns the UUID for a name, or "".
func (c *Cache) UUIDByName(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byName[name]
}

// Len returns the number of cached identities.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byUUID)
}
