package vigil

import (
	"hash/maphash"
	"os"
	"sync"
	"sync/atomic"
)

// FileCacheKey identifies the version of a file's contents without reading
// them. Two equal keys are the system's sole evidence that a file is
// unchanged since it was last checked. A rewrite that preserves the exact
// size and timestamp is indistinguishable from "unchanged"; that tradeoff
// is accepted in favor of never reading file content for cache decisions.
type FileCacheKey struct {
	MtimeSecs  int64
	MtimeNanos int32
	Size       int64
}

// KeyFromFileInfo derives a cache key from live filesystem metadata.
func KeyFromFileInfo(info os.FileInfo) FileCacheKey {
	mtime := info.ModTime()
	return FileCacheKey{
		MtimeSecs:  mtime.Unix(),
		MtimeNanos: int32(mtime.Nanosecond()),
		Size:       info.Size(),
	}
}

// CachedViolation is the minimal violation data stored in the cache.
// The conversion from Violation drops per-run state (the file path is the
// entry's map key, the cached flag is recomputed on the way out).
type CachedViolation struct {
	Check     string
	Line      int
	Kind      string
	Advice    string
	Value     int64
	Threshold int64
	Pattern   string
}

// cachedFromViolation converts a live violation into its stored form.
func cachedFromViolation(v Violation) CachedViolation {
	return CachedViolation{
		Check:     v.Check,
		Line:      v.Line,
		Kind:      v.Kind,
		Advice:    v.Advice,
		Value:     v.Value,
		Threshold: v.Threshold,
		Pattern:   v.Pattern,
	}
}

// ToViolation reconstructs a reportable violation for the given file.
// Violations restored from the cache are marked Cached.
func (cv CachedViolation) ToViolation(file string) Violation {
	return Violation{
		Check:     cv.Check,
		File:      file,
		Line:      cv.Line,
		Kind:      cv.Kind,
		Advice:    cv.Advice,
		Value:     cv.Value,
		Threshold: cv.Threshold,
		Pattern:   cv.Pattern,
		Cached:    true,
	}
}

// FilterCheck returns the subset of violations produced by the named check.
func FilterCheck(violations []CachedViolation, check string) []CachedViolation {
	var filtered []CachedViolation
	for _, v := range violations {
		if v.Check == check {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// cachedFileResult is one stored outcome for a file: the key it was
// computed against and the complete violation list across all checks.
type cachedFileResult struct {
	key        FileCacheKey
	violations []CachedViolation
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

const cacheShardCount = 32

// cacheShard guards one slice of the path space. Lookups and inserts on
// different shards never contend.
type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]cachedFileResult
}

// FileCache is the concurrency-safe runtime cache store. It is constructed
// once per invocation, seeded from the persisted snapshot or empty, and
// shared by reference with every worker.
type FileCache struct {
	shards      [cacheShardCount]cacheShard
	seed        maphash.Seed
	configHash  uint64
	toolVersion string
	hits        atomic.Uint64
	misses      atomic.Uint64
}

// NewFileCache creates an empty cache bound to the given config hash.
func NewFileCache(configHash uint64) *FileCache {
	c := &FileCache{
		seed:        maphash.MakeSeed(),
		configHash:  configHash,
		toolVersion: Version,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]cachedFileResult)
	}
	return c
}

func (c *FileCache) shard(path string) *cacheShard {
	return &c.shards[maphash.String(c.seed, path)%cacheShardCount]
}

// Lookup returns the complete cached violation set for path if its stored
// key equals the current key. One call counts as one hit or one miss,
// regardless of how many checks the returned slice is later filtered for.
// Safe for concurrent use without external locking.
func (c *FileCache) Lookup(path string, key FileCacheKey) ([]CachedViolation, bool) {
	s := c.shard(path)
	s.mu.RLock()
	entry, ok := s.entries[path]
	s.mu.RUnlock()

	if ok && entry.key == key {
		c.hits.Add(1)
		return entry.violations, true
	}
	c.misses.Add(1)
	return nil, false
}

// Insert upserts the cached result for path. The violation list must be
// the complete, current set across all checks for that file; any previous
// entry is replaced wholesale, never merged.
func (c *FileCache) Insert(path string, key FileCacheKey, violations []CachedViolation) {
	s := c.shard(path)
	s.mu.Lock()
	s.entries[path] = cachedFileResult{key: key, violations: violations}
	s.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *FileCache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Stats returns the current counters. Counts are approximate while other
// goroutines are still mutating the store; that is fine, they are purely
// informational.
func (c *FileCache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}

// forEach calls fn for every entry. Used by the persistence layer.
func (c *FileCache) forEach(fn func(path string, entry cachedFileResult)) {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for path, entry := range s.entries {
			fn(path, entry)
		}
		s.mu.RUnlock()
	}
}
