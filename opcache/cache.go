// Package opcache memoizes operation safety classifications across
// hook invocations. Each invocation is a fresh process, so entries
// live as per-fingerprint JSON files under one directory, fronted by
// an in-process map.
package opcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yairfalse/vahti/types"
)

// Result is the memoized safety classification.
type Result string

const (
	ResultSafe      Result = "safe"
	ResultDangerous Result = "dangerous"
	ResultUnknown   Result = "unknown"
)

// Default TTLs. Safe verdicts live longer because repeating them is
// cheap to honor; dangerous/unknown only suppress duplicate service
// calls within a short window.
const (
	DefaultSafeTTL      = 300000 * time.Millisecond
	DefaultDangerousTTL = 60000 * time.Millisecond
)

// DefaultTTL picks the TTL for a result.
func DefaultTTL(result Result) time.Duration {
	if result == ResultSafe {
		return DefaultSafeTTL
	}
	return DefaultDangerousTTL
}

// Entry is the on-disk cache record. Timestamps and TTLs are epoch
// and duration milliseconds to keep the files language-neutral.
type Entry struct {
	Result    Result `json:"result"`
	Timestamp int64  `json:"timestamp"`
	TTL       int64  `json:"ttl"`
}

// ExpiredAt reports whether the entry is stale at now.
func (e *Entry) ExpiredAt(now time.Time) bool {
	age := now.UnixMilli() - e.Timestamp
	return age < 0 || age >= e.TTL
}

// Cache is the two-tier store. Safe for concurrent use within one
// process; cross-process races on the files are documented behavior.
type Cache struct {
	mu  sync.Mutex
	dir string
	mem map[string]Entry
	now func() time.Time
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir: dir,
		mem: make(map[string]Entry),
		now: time.Now,
	}, nil
}

// Fingerprint keys an operation: hook type, normalized command, and
// sorted contextual metadata, hashed so keys are filename-safe.
func Fingerprint(hook types.HookType, command string, metadata map[string]string) string {
	h := sha256.New()
	h.Write([]byte(hook))
	h.Write([]byte{'|'})
	h.Write([]byte(normalizeCommand(command)))

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{'|'})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(metadata[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeCommand(command string) string {
	return strings.Join(strings.Fields(strings.ToLower(command)), " ")
}

// Get returns the entry for fingerprint if present and unexpired.
// Expiry is lazy: a stale entry is dropped here, not by a sweeper.
func (c *Cache) Get(fingerprint string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if entry, ok := c.mem[fingerprint]; ok {
		if entry.ExpiredAt(now) {
			delete(c.mem, fingerprint)
			_ = os.Remove(c.path(fingerprint))
			return Entry{}, false
		}
		return entry, true
	}

	data, err := os.ReadFile(c.path(fingerprint))
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		_ = os.Remove(c.path(fingerprint))
		return Entry{}, false
	}
	if entry.ExpiredAt(now) {
		_ = os.Remove(c.path(fingerprint))
		return Entry{}, false
	}
	c.mem[fingerprint] = entry
	return entry, true
}

// Set stores result under fingerprint with the given TTL. The file
// write is atomic (temp + rename) so concurrent readers never see a
// torn entry.
func (c *Cache) Set(fingerprint string, result Result, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		Result:    result,
		Timestamp: c.now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	}
	c.mem[fingerprint] = entry

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return writeFileAtomic(c.path(fingerprint), data)
}

// Cleanup removes every expired entry file and returns the count.
func (c *Cache) Cleanup() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	for fp, entry := range c.mem {
		if entry.ExpiredAt(now) {
			delete(c.mem, fp)
		}
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, dirEntry.Name())
		data, err := os.ReadFile(path) // #nosec G304 -- paths come from ReadDir
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil || entry.ExpiredAt(now) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Stats summarizes the on-disk cache for the CLI.
type Stats struct {
	Total     int            `json:"total"`
	Expired   int            `json:"expired"`
	ByResult  map[Result]int `json:"by_result"`
	Directory string         `json:"directory"`
}

// Stats walks the cache directory and counts entries.
func (c *Cache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		ByResult:  make(map[Result]int),
		Directory: c.dir,
	}
	now := c.now()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return stats, fmt.Errorf("read cache dir: %w", err)
	}
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, dirEntry.Name())) // #nosec G304
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		stats.Total++
		stats.ByResult[entry.Result]++
		if entry.ExpiredAt(now) {
			stats.Expired++
		}
	}
	return stats, nil
}

func (c *Cache) path(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".json")
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}
