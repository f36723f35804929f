package filestore

import (
	"os"
	"sync"
	"time"

	jsonx "opsbot/internal/shared/json"
)

// CollectionConfig configures a Collection.
type CollectionConfig struct {
	FilePath string      // empty = in-memory only
	Perm     os.FileMode // file permissions; default 0o600
}

// Collection is a generic in-memory map optionally backed by a single JSON file.
// Every mutation is persisted with an atomic rename before the lock is released.
// When the backing file is rewritten by another process, the next access
// reloads it.
type Collection[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]V
	filePath string
	perm     os.FileMode
	modTime  time.Time
	size     int64
}

// NewCollection creates a new Collection. Call Load to populate from disk.
func NewCollection[K comparable, V any](cfg CollectionConfig) *Collection[K, V] {
	perm := cfg.Perm
	if perm == 0 {
		perm = 0o600
	}
	return &Collection[K, V]{
		items:    make(map[K]V),
		filePath: cfg.FilePath,
		perm:     perm,
	}
}

// Load reads the backing file into the in-memory map.
// No-op if filePath is empty or the file doesn't exist.
func (c *Collection[K, V]) Load() error {
	if c.filePath == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Collection[K, V]) loadLocked() error {
	info, err := os.Stat(c.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	data, err := ReadFileOrEmpty(c.filePath)
	if err != nil || data == nil {
		return err
	}

	m := make(map[K]V)
	if err := jsonx.Unmarshal(data, &m); err != nil {
		return err
	}
	c.items = m
	c.modTime = info.ModTime()
	c.size = info.Size()
	return nil
}

// refreshLocked reloads the map when the file changed since the last load
// or write. Stat failures keep the current state.
func (c *Collection[K, V]) refreshLocked() error {
	if c.filePath == "" {
		return nil
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return nil
	}
	if info.ModTime().Equal(c.modTime) && info.Size() == c.size {
		return nil
	}
	return c.loadLocked()
}

// Get returns the value for key and whether it exists.
func (c *Collection[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.refreshLocked()
	v, ok := c.items[key]
	return v, ok
}

// Put sets a key-value pair and persists.
func (c *Collection[K, V]) Put(key K, value V) error {
	return c.MutateWithRollback(func(items map[K]V) error {
		items[key] = value
		return nil
	})
}

// Len returns the number of items.
func (c *Collection[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.refreshLocked()
	return len(c.items)
}

// MutateWithRollback gives fn exclusive access to the live map. If fn fails,
// or the result cannot be persisted, the map is restored to its prior state.
func (c *Collection[K, V]) MutateWithRollback(fn func(items map[K]V) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(); err != nil {
		return err
	}
	snapshot := make(map[K]V, len(c.items))
	for k, v := range c.items {
		snapshot[k] = v
	}

	if err := fn(c.items); err != nil {
		c.items = snapshot
		return err
	}
	if err := c.persistLocked(); err != nil {
		c.items = snapshot
		return err
	}
	return nil
}

// ReadLocked calls fn with the map under the collection lock. No persistence.
func (c *Collection[K, V]) ReadLocked(fn func(items map[K]V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.refreshLocked()
	fn(c.items)
}

func (c *Collection[K, V]) persistLocked() error {
	if c.filePath == "" {
		return nil
	}
	data, err := MarshalJSONIndent(c.items)
	if err != nil {
		return err
	}
	if err := AtomicWrite(c.filePath, data, c.perm); err != nil {
		return err
	}
	if info, err := os.Stat(c.filePath); err == nil {
		c.modTime = info.ModTime()
		c.size = info.Size()
	}
	return nil
}
