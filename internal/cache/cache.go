// Package cache implements a filesystem-backed key-value cache with
// per-entry TTLs.
//
// Entries are stored one per file as JSON envelopes carrying the payload,
// its write timestamp and an optional TTL in seconds. Expiry is lazy: an
// expired or corrupt entry is removed the next time it is read. The layout
// is human-inspectable, so cached lookups survive process restarts and can
// be pruned by hand.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// unsafeKeyChars matches everything that is not safe in a filename.
var unsafeKeyChars = regexp.MustCompile(`[^\w\-.]`)

// Cache stores JSON-serializable values under string keys in a directory.
// All methods are safe for concurrent use; writes go through a temp file
// and rename so readers never observe a torn entry.
type Cache struct {
	dir    string
	logger zerolog.Logger

	now func() time.Time
}

// Info summarizes the cache directory contents.
type Info struct {
	Count     int     `json:"count"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
	Directory string  `json:"directory"`
}

// entry is the on-disk envelope. Timestamp and TTL are in seconds; a nil
// TTL never expires.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
	TTL       *float64        `json:"ttl"`
}

func (e entry) expired(now time.Time) bool {
	if e.TTL == nil {
		return false
	}
	age := float64(now.UnixNano())/float64(time.Second) - e.Timestamp
	return age > *e.TTL
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string, logger zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir, logger: logger, now: time.Now}, nil
}

// filePath derives the entry file for a key. The readable prefix keeps the
// directory browsable; the hash keeps distinct keys from colliding after
// sanitization.
func (c *Cache) filePath(key string) string {
	safe := unsafeKeyChars.ReplaceAllString(key, "_")
	sum := md5.Sum([]byte(key))
	return filepath.Join(c.dir, safe+"_"+hex.EncodeToString(sum[:])+".json")
}

// Set stores value under key. A zero or negative ttl means the entry never
// expires.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling cache value for %q: %w", key, err)
	}

	e := entry{
		Data:      data,
		Timestamp: float64(c.now().UnixNano()) / float64(time.Second),
	}
	if ttl > 0 {
		seconds := ttl.Seconds()
		e.TTL = &seconds
	}

	payload, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry for %q: %w", key, err)
	}

	return c.writeAtomic(c.filePath(key), payload)
}

func (c *Cache) writeAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("committing cache entry: %w", err)
	}
	return nil
}

// Get loads the value stored under key into dest, which must be a pointer.
// It reports whether a live entry was found. Expired and corrupt entries
// are removed and treated as misses.
func (c *Cache) Get(key string, dest any) (bool, error) {
	path := c.filePath(key)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading cache entry for %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn().Str("key", key).Err(err).Msg("removing corrupt cache entry")
		os.Remove(path)
		return false, nil
	}

	if e.expired(c.now()) {
		os.Remove(path)
		return false, nil
	}

	if dest != nil {
		if err := json.Unmarshal(e.Data, dest); err != nil {
			c.logger.Warn().Str("key", key).Err(err).Msg("removing undecodable cache entry")
			os.Remove(path)
			return false, nil
		}
	}
	return true, nil
}

// Exists reports whether key has a live entry without decoding its payload.
func (c *Cache) Exists(key string) bool {
	ok, err := c.Get(key, nil)
	return err == nil && ok
}

// Delete removes the entry for key if present.
func (c *Cache) Delete(key string) error {
	err := os.Remove(c.filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting cache entry for %q: %w", key, err)
	}
	return nil
}

// Clear removes every entry in the cache directory.
func (c *Cache) Clear() error {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing cache entry %s: %w", f, err)
		}
	}
	return nil
}

// CleanupExpired removes expired and corrupt entries and returns how many
// files were deleted.
func (c *Cache) CleanupExpired() (int, error) {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("listing cache entries: %w", err)
	}

	now := c.now()
	removed := 0
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			continue
		}

		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			// Corrupt entries count as expired.
			if os.Remove(f) == nil {
				removed++
			}
			continue
		}
		if e.expired(now) {
			if os.Remove(f) == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		c.logger.Info().Int("removed", removed).Str("directory", c.dir).Msg("cleaned up expired cache entries")
	}
	return removed, nil
}

// Stats returns entry count and total size of the cache directory.
func (c *Cache) Stats() (Info, error) {
	info := Info{Directory: c.dir}

	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return info, fmt.Errorf("listing cache entries: %w", err)
	}

	var total int64
	for _, f := range files {
		st, err := os.Stat(f)
		if err != nil {
			continue
		}
		total += st.Size()
	}

	info.Count = len(files)
	info.SizeBytes = total
	info.SizeMB = math.Round(float64(total)/(1024*1024)*100) / 100
	return info, nil
}
