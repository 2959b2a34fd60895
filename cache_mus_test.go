package vigil

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedCache(configHash uint64) *FileCache {
	cache := NewFileCache(configHash)
	cache.Insert("cmd/main.go", testKey(1700000000, 321), []CachedViolation{
		{Check: "cloc", Kind: "file_too_long", Advice: "Split cmd/main.go (800 lines, limit 700)", Value: 800, Threshold: 700},
		{Check: "escapes", Line: 42, Kind: "escape_hatch", Advice: "Remove the nolint directive", Pattern: "nolint"},
	})
	cache.Insert("pkg/util.go", FileCacheKey{MtimeSecs: 1700000100, MtimeNanos: 999999999, Size: 77}, nil)
	cache.Insert("go.mod", testKey(1700000200, 55), []CachedViolation{
		{Check: "build", Line: 9, Kind: "replace_directive", Advice: "Remove the replace directive before release"},
	})
	return cache
}

func TestFileCache_SaveLoad_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	const configHash = uint64(12345)

	original := populatedCache(configHash)
	require.NoError(t, original.Save(fs, ".vigil/cache.bin"))

	loaded, err := LoadFileCache(fs, ".vigil/cache.bin", configHash)
	require.NoError(t, err)
	assert.Equal(t, original.Len(), loaded.Len())

	got, ok := loaded.Lookup("cmd/main.go", testKey(1700000000, 321))
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "cloc", got[0].Check)
	assert.Equal(t, int64(800), got[0].Value)
	assert.Equal(t, int64(700), got[0].Threshold)
	assert.Equal(t, "nolint", got[1].Pattern)
	assert.Equal(t, 42, got[1].Line)

	// Nanosecond precision must survive the round trip.
	got, ok = loaded.Lookup("pkg/util.go", FileCacheKey{MtimeSecs: 1700000100, MtimeNanos: 999999999, Size: 77})
	require.True(t, ok)
	assert.Empty(t, got, "a clean file round-trips as an empty violation list")

	got, ok = loaded.Lookup("go.mod", testKey(1700000200, 55))
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "replace_directive", got[0].Kind)
}

func TestFileCache_SaveLoad_EmptyCache(t *testing.T) {
	fs := afero.NewMemMapFs()

	empty := NewFileCache(7)
	require.NoError(t, empty.Save(fs, ".vigil/cache.bin"))

	loaded, err := LoadFileCache(fs, ".vigil/cache.bin", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestFileCache_Save_Atomic(t *testing.T) {
	fs := afero.NewMemMapFs()

	cache := populatedCache(1)
	require.NoError(t, cache.Save(fs, ".vigil/cache.bin"))

	exists, err := afero.Exists(fs, ".vigil/cache.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	tmpExists, err := afero.Exists(fs, ".vigil/cache.bin.tmp")
	require.NoError(t, err)
	assert.False(t, tmpExists, "the temporary file must be renamed away")
}

func TestFileCache_Save_OverwritesPrevious(t *testing.T) {
	fs := afero.NewMemMapFs()

	first := populatedCache(1)
	require.NoError(t, first.Save(fs, ".vigil/cache.bin"))

	second := NewFileCache(1)
	second.Insert("only.go", testKey(5, 5), nil)
	require.NoError(t, second.Save(fs, ".vigil/cache.bin"))

	loaded, err := LoadFileCache(fs, ".vigil/cache.bin", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
}

func TestLoadFileCache_Failures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		fs := afero.NewMemMapFs()

		_, err := LoadFileCache(fs, ".vigil/cache.bin", 1)
		require.Error(t, err)

		info, found := GetErrorInfo(err)
		require.True(t, found)
		assert.Equal(t, ErrorTypeCache, info.Type)
	})

	t.Run("config hash mismatch", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		cache := populatedCache(100)
		require.NoError(t, cache.Save(fs, ".vigil/cache.bin"))

		_, err := LoadFileCache(fs, ".vigil/cache.bin", 200)
		assert.ErrorIs(t, err, ErrConfigChanged)
	})

	t.Run("tool version mismatch", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		cache := populatedCache(100)
		cache.toolVersion = "0.0.1"
		require.NoError(t, cache.Save(fs, ".vigil/cache.bin"))

		_, err := LoadFileCache(fs, ".vigil/cache.bin", 100)
		assert.ErrorIs(t, err, ErrToolVersionMismatch)
	})

	t.Run("garbage content", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, ".vigil/cache.bin", []byte("not a cache at all"), 0o644))

		_, err := LoadFileCache(fs, ".vigil/cache.bin", 1)
		require.Error(t, err)
	})

	t.Run("truncated snapshot", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		cache := populatedCache(100)
		require.NoError(t, cache.Save(fs, ".vigil/cache.bin"))

		data, err := afero.ReadFile(fs, ".vigil/cache.bin")
		require.NoError(t, err)
		require.Greater(t, len(data), 20)
		require.NoError(t, afero.WriteFile(fs, ".vigil/cache.bin", data[:len(data)-10], 0o644))

		_, err = LoadFileCache(fs, ".vigil/cache.bin", 100)
		assert.ErrorIs(t, err, ErrCacheCorrupt)
	})

	t.Run("empty file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, ".vigil/cache.bin", nil, 0o644))

		_, err := LoadFileCache(fs, ".vigil/cache.bin", 1)
		assert.ErrorIs(t, err, ErrCacheCorrupt)
	})
}

func TestUnmarshalString(t *testing.T) {
	t.Run("truncated payload", func(t *testing.T) {
		// Length prefix says 10 bytes but only 3 follow.
		data := []byte{10, 'a', 'b', 'c'}
		_, _, err := unmarshalString(data)
		assert.Error(t, err)
	})

	t.Run("empty input", func(t *testing.T) {
		_, _, err := unmarshalString(nil)
		assert.Error(t, err)
	})
}
