package vigil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(secs int64, size int64) FileCacheKey {
	return FileCacheKey{MtimeSecs: secs, MtimeNanos: 0, Size: size}
}

// TestFileCacheKey_Stability verifies that deriving a key twice from an
// unmodified file yields equal keys.
func TestFileCacheKey_Stability(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := afero.WriteFile(fs, "main.go", []byte("package main\n"), 0o644)
	require.NoError(t, err)

	info1, err := fs.Stat("main.go")
	require.NoError(t, err)
	info2, err := fs.Stat("main.go")
	require.NoError(t, err)

	assert.Equal(t, KeyFromFileInfo(info1), KeyFromFileInfo(info2))
}

func TestFileCacheKey_ChangesWithContent(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := afero.WriteFile(fs, "main.go", []byte("package main\n"), 0o644)
	require.NoError(t, err)
	info1, err := fs.Stat("main.go")
	require.NoError(t, err)
	key1 := KeyFromFileInfo(info1)

	// A longer rewrite changes the size even if the mtime granularity is coarse.
	err = afero.WriteFile(fs, "main.go", []byte("package main\n\nfunc main() {}\n"), 0o644)
	require.NoError(t, err)
	info2, err := fs.Stat("main.go")
	require.NoError(t, err)
	key2 := KeyFromFileInfo(info2)

	assert.NotEqual(t, key1, key2)
}

func TestWalkedFile_CacheKey(t *testing.T) {
	mtime := time.Date(2026, 3, 14, 9, 26, 53, 589793, time.UTC)
	f := WalkedFile{Path: "pkg/a.go", Size: 1234, Mtime: mtime}

	key := f.CacheKey()
	assert.Equal(t, mtime.Unix(), key.MtimeSecs)
	assert.Equal(t, int32(589793), key.MtimeNanos)
	assert.Equal(t, int64(1234), key.Size)
}

func TestFileCache_LookupAndInsert(t *testing.T) {
	t.Run("hit returns stored violations and counts one hit", func(t *testing.T) {
		cache := NewFileCache(42)
		key := testKey(100, 10)

		violations := []CachedViolation{
			{Check: "cloc", Kind: "file_too_long", Advice: "split it"},
			{Check: "escapes", Line: 7, Kind: "escape_hatch", Advice: "fix it", Pattern: "nolint"},
		}
		cache.Insert("a.go", key, violations)

		got, ok := cache.Lookup("a.go", key)
		require.True(t, ok)
		assert.Equal(t, violations, got)

		stats := cache.Stats()
		assert.Equal(t, uint64(1), stats.Hits)
		assert.Equal(t, uint64(0), stats.Misses)
		assert.Equal(t, 1, stats.Entries)
	})

	t.Run("filter by check returns only that check's subset", func(t *testing.T) {
		cache := NewFileCache(42)
		key := testKey(100, 10)

		cache.Insert("a.go", key, []CachedViolation{
			{Check: "cloc", Kind: "file_too_long", Advice: "split it"},
			{Check: "escapes", Line: 7, Kind: "escape_hatch", Advice: "fix it"},
			{Check: "escapes", Line: 9, Kind: "escape_hatch", Advice: "fix it too"},
		})

		got, ok := cache.Lookup("a.go", key)
		require.True(t, ok)

		escapes := FilterCheck(got, "escapes")
		require.Len(t, escapes, 2)
		assert.Equal(t, 7, escapes[0].Line)
		assert.Equal(t, 9, escapes[1].Line)

		assert.Len(t, FilterCheck(got, "cloc"), 1)
		assert.Empty(t, FilterCheck(got, "license"))
	})

	t.Run("miss on unknown path", func(t *testing.T) {
		cache := NewFileCache(42)

		_, ok := cache.Lookup("missing.go", testKey(1, 1))
		assert.False(t, ok)

		stats := cache.Stats()
		assert.Equal(t, uint64(0), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
	})

	t.Run("miss on changed key never serves stale data", func(t *testing.T) {
		cache := NewFileCache(42)
		cache.Insert("a.go", testKey(100, 10), []CachedViolation{
			{Check: "cloc", Kind: "file_too_long", Advice: "split it"},
		})

		_, ok := cache.Lookup("a.go", testKey(100, 11))
		assert.False(t, ok, "size change must miss")

		_, ok = cache.Lookup("a.go", testKey(101, 10))
		assert.False(t, ok, "mtime change must miss")

		stats := cache.Stats()
		assert.Equal(t, uint64(0), stats.Hits)
		assert.Equal(t, uint64(2), stats.Misses)
	})

	t.Run("insert replaces stale entry wholesale", func(t *testing.T) {
		cache := NewFileCache(42)
		cache.Insert("a.go", testKey(100, 10), []CachedViolation{
			{Check: "cloc", Kind: "file_too_long", Advice: "old"},
			{Check: "escapes", Kind: "escape_hatch", Advice: "old"},
		})

		newKey := testKey(200, 12)
		cache.Insert("a.go", newKey, []CachedViolation{
			{Check: "escapes", Kind: "escape_hatch", Advice: "new"},
		})

		got, ok := cache.Lookup("a.go", newKey)
		require.True(t, ok)
		require.Len(t, got, 1)
		assert.Equal(t, "new", got[0].Advice)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("empty violation list is a valid cached result", func(t *testing.T) {
		cache := NewFileCache(42)
		key := testKey(100, 10)
		cache.Insert("clean.go", key, nil)

		got, ok := cache.Lookup("clean.go", key)
		assert.True(t, ok)
		assert.Empty(t, got)
	})
}

func TestFileCache_ConcurrentInserts(t *testing.T) {
	cache := NewFileCache(42)

	const numWorkers = 16
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		go func(id int) {
			defer wg.Done()

			path := fmt.Sprintf("pkg/file_%d.go", id)
			cache.Insert(path, testKey(int64(id), int64(id)), []CachedViolation{
				{Check: "escapes", Line: id, Kind: "escape_hatch", Advice: "fix"},
			})
		}(i)
	}

	wg.Wait()

	assert.Equal(t, numWorkers, cache.Len(), "no insert may be lost")

	for i := 0; i < numWorkers; i++ {
		path := fmt.Sprintf("pkg/file_%d.go", i)
		got, ok := cache.Lookup(path, testKey(int64(i), int64(i)))
		require.True(t, ok, "entry for %s must exist", path)
		require.Len(t, got, 1)
		assert.Equal(t, i, got[0].Line)
	}
}

func TestFileCache_ConcurrentMixedAccess(t *testing.T) {
	cache := NewFileCache(42)
	key := testKey(100, 10)
	cache.Insert("shared.go", key, []CachedViolation{
		{Check: "cloc", Kind: "file_too_long", Advice: "split"},
	})

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines * 2)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			_, _ = cache.Lookup("shared.go", key)
		}(i)
		go func(id int) {
			defer wg.Done()
			cache.Insert(fmt.Sprintf("other_%d.go", id), testKey(int64(id), 1), nil)
		}(i)
	}

	wg.Wait()

	assert.Equal(t, numGoroutines+1, cache.Len())
	got, ok := cache.Lookup("shared.go", key)
	require.True(t, ok)
	assert.Len(t, got, 1)
}

func TestCachedViolation_Conversion(t *testing.T) {
	v := Violation{
		Check:     "cloc",
		File:      "big.go",
		Line:      0,
		Kind:      "file_too_long",
		Advice:    "Split big.go into smaller files (900 lines, limit 700)",
		Value:     900,
		Threshold: 700,
	}

	cv := cachedFromViolation(v)
	assert.Equal(t, "cloc", cv.Check)
	assert.Equal(t, "file_too_long", cv.Kind)
	assert.Equal(t, int64(900), cv.Value)

	restored := cv.ToViolation("big.go")
	assert.Equal(t, v.File, restored.File)
	assert.Equal(t, v.Kind, restored.Kind)
	assert.Equal(t, v.Advice, restored.Advice)
	assert.Equal(t, v.Value, restored.Value)
	assert.Equal(t, v.Threshold, restored.Threshold)
	assert.True(t, restored.Cached, "restored violations must be marked as cached")
}
