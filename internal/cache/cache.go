// Package cache is a content-addressed persistent store for finished
// transcripts. Each entry is two paired records: a payload file on disk and a
// metadata row in sqlite, written in that order so a crash between the writes
// never leaves a readable-but-incomplete entry.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
	"github.com/Yashground/video-processing-app-sub000/internal/store"
)

type Cache struct {
	dir      string
	db       *store.DB
	maxBytes int64
	maxAge   time.Duration
	logger   *logger.Logger

	ops    chan func()
	opMu   sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	mu    sync.Mutex
	index map[string]*store.CacheEntry

	stopSweep chan struct{}
	now       func() time.Time
}

// New opens the cache at dir, loads the metadata index, and starts the
// bounded operation workers and the hourly sweep.
func New(dir string, db *store.DB, maxBytes int64, maxAge time.Duration, log *logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.Default()
	}

	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	entries, err := db.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	c := &Cache{
		dir:       dir,
		db:        db,
		maxBytes:  maxBytes,
		maxAge:    maxAge,
		logger:    log.WithComponent("cache"),
		ops:       make(chan func(), constants.CacheOpWorkers*2),
		index:     make(map[string]*store.CacheEntry, len(entries)),
		stopSweep: make(chan struct{}),
		now:       time.Now,
	}

	for _, e := range entries {
		// Metadata without a payload file means the entry was lost; drop it.
		if _, statErr := os.Stat(c.payloadPath(e.Key)); statErr != nil {
			_ = db.DeleteEntry(e.Key)
			continue
		}
		c.index[e.Key] = e
	}

	for i := 0; i < constants.CacheOpWorkers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for op := range c.ops {
				op()
			}
		}()
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c, nil
}

// Get returns the cached payload for key, or a miss. A hit bumps the entry's
// hit count and last-access time. Read failures self-heal by invalidating the
// entry and reporting a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	var payload []byte
	ok := c.submit(func() {
		c.mu.Lock()
		entry, exists := c.index[key]
		c.mu.Unlock()
		if !exists {
			return
		}

		data, err := os.ReadFile(c.payloadPath(key))
		if err != nil {
			c.logger.Warn("Cache payload unreadable, invalidating entry", "key", key, "error", err)
			c.invalidate(key)
			return
		}

		at := c.now()
		c.mu.Lock()
		entry.Hits++
		entry.LastAccessAt = at
		c.mu.Unlock()
		if err := c.db.TouchEntry(key, at); err != nil {
			c.logger.Warn("Failed to record cache hit", "key", key, "error", err)
		}

		payload = data
	})
	if !ok {
		return nil, false
	}
	return payload, payload != nil
}

// Put persists the payload file, then the metadata record, updates the index,
// and triggers a sweep.
func (c *Cache) Put(key string, payload []byte, language string) error {
	var putErr error
	ok := c.submit(func() {
		path := c.payloadPath(key)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, payload, constants.FilePermissions); err != nil {
			putErr = fmt.Errorf("failed to write payload: %w", err)
			return
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			putErr = fmt.Errorf("failed to finalize payload: %w", err)
			return
		}

		entry := &store.CacheEntry{
			Key:          key,
			Size:         int64(len(payload)),
			Language:     language,
			Hits:         0,
			CreatedAt:    c.now(),
			LastAccessAt: c.now(),
		}
		if err := c.db.PutEntry(entry); err != nil {
			putErr = fmt.Errorf("failed to write metadata: %w", err)
			return
		}

		c.mu.Lock()
		c.index[key] = entry
		c.mu.Unlock()

		c.sweep()
	})
	if !ok {
		return fmt.Errorf("cache is closed")
	}
	return putErr
}

// Language returns the detected language recorded for a cached key.
func (c *Cache) Language(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index[key]
	if !ok {
		return "", false
	}
	return entry.Language, true
}

// Len returns the number of indexed entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Close drains outstanding operations before releasing resources.
func (c *Cache) Close() {
	c.opMu.Lock()
	if c.closed {
		c.opMu.Unlock()
		return
	}
	c.closed = true
	close(c.stopSweep)
	close(c.ops)
	c.opMu.Unlock()

	c.wg.Wait()
}

// submit runs op through the bounded operation queue and waits for it.
func (c *Cache) submit(op func()) bool {
	c.opMu.RLock()
	if c.closed {
		c.opMu.RUnlock()
		return false
	}
	done := make(chan struct{})
	c.ops <- func() {
		defer close(done)
		op()
	}
	c.opMu.RUnlock()

	<-done
	return true
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(constants.CacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.submitAsync(c.sweep)
		}
	}
}

// submitAsync enqueues an operation without waiting for it.
func (c *Cache) submitAsync(op func()) {
	c.opMu.RLock()
	defer c.opMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ops <- op:
	default:
		// Queue saturated; the next Put will sweep anyway.
	}
}

// candidate is a point-in-time copy of an entry's eviction inputs, taken
// under the index lock so sorting never races a concurrent hit bump.
type candidate struct {
	key          string
	size         int64
	hits         int
	createdAt    time.Time
	lastAccessAt time.Time
}

// sweep removes entries older than the max age, then evicts by score until
// the aggregate size fits. Score is (now - lastAccess) / (hits + 1); lower
// scores are more valuable, so the highest score goes first.
func (c *Cache) sweep() {
	now := c.now()

	c.mu.Lock()
	var total int64
	candidates := make([]candidate, 0, len(c.index))
	for _, e := range c.index {
		candidates = append(candidates, candidate{
			key:          e.Key,
			size:         e.Size,
			hits:         e.Hits,
			createdAt:    e.CreatedAt,
			lastAccessAt: e.LastAccessAt,
		})
		total += e.Size
	}
	c.mu.Unlock()

	for _, e := range candidates {
		if now.Sub(e.createdAt) > c.maxAge {
			c.invalidate(e.key)
			total -= e.size
		}
	}

	if total <= c.maxBytes {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return score(now, candidates[i]) > score(now, candidates[j])
	})

	for _, e := range candidates {
		if total <= c.maxBytes {
			break
		}
		c.mu.Lock()
		_, live := c.index[e.key]
		c.mu.Unlock()
		if !live {
			continue
		}
		c.logger.Info("Evicting cache entry", "key", e.key, "size", e.size, "hits", e.hits)
		c.invalidate(e.key)
		total -= e.size
	}
}

func score(now time.Time, e candidate) float64 {
	return float64(now.Sub(e.lastAccessAt)) / float64(e.hits+1)
}

// invalidate removes both records for key. Metadata goes first so a crash
// mid-removal leaves an orphaned payload file, never a dangling index row.
func (c *Cache) invalidate(key string) {
	c.mu.Lock()
	delete(c.index, key)
	c.mu.Unlock()

	if err := c.db.DeleteEntry(key); err != nil {
		c.logger.Warn("Failed to delete cache metadata", "key", key, "error", err)
	}
	if err := os.Remove(c.payloadPath(key)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("Failed to delete cache payload", "key", key, "error", err)
	}
}

func (c *Cache) payloadPath(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}
