package vigil

import (
	"fmt"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/spf13/afero"
)

// cacheFormatVersion gates whether a persisted snapshot can be decoded at
// all. Bump it whenever the wire layout or the meaning of a stored field
// changes; old snapshots are then discarded wholesale on load.
// v2: violations gained value/threshold/pattern fields.
// v3: keys store nanosecond mtime precision.
const cacheFormatVersion uint64 = 3

// CacheFileName is the snapshot file name within the .vigil directory.
const CacheFileName = "cache.bin"

// Save serializes the cache to a versioned binary snapshot using MUS
// encoding, written to a temporary file and atomically renamed into place.
// A concurrent run racing on the same snapshot can lose the race but never
// observes a half-written file.
func (c *FileCache) Save(fs afero.Fs, path string) error {
	type snapshotEntry struct {
		path  string
		entry cachedFileResult
	}
	var entries []snapshotEntry
	c.forEach(func(path string, entry cachedFileResult) {
		entries = append(entries, snapshotEntry{path: path, entry: entry})
	})

	size := varint.Uint64.Size(cacheFormatVersion)
	size += ord.SizeString(c.toolVersion, varint.PositiveInt)
	size += varint.Uint64.Size(c.configHash)
	size += varint.Uint64.Size(uint64(len(entries)))
	for _, e := range entries {
		size += ord.SizeString(e.path, varint.PositiveInt)
		size += cachedFileResultSize(e.entry)
	}

	buf := make([]byte, size)
	n := varint.Uint64.Marshal(cacheFormatVersion, buf)
	n += ord.MarshalString(c.toolVersion, varint.PositiveInt, buf[n:])
	n += varint.Uint64.Marshal(c.configHash, buf[n:])
	n += varint.Uint64.Marshal(uint64(len(entries)), buf[n:])
	for _, e := range entries {
		n += ord.MarshalString(e.path, varint.PositiveInt, buf[n:])
		n += marshalCachedFileResultTo(e.entry, buf[n:])
	}

	dir := DirPath(path)
	if dir != "" && dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return NewCacheError("failed to create cache directory", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, buf[:n], 0o644); err != nil {
		return NewCacheError("failed to write cache snapshot", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return NewCacheError("failed to move cache snapshot into place", err)
	}

	return nil
}

// LoadFileCache reads and validates a persisted snapshot. Validation order:
// format version, then tool version, then config hash; the first mismatch
// wins and no entry is reused. Every error from this function means "no
// usable cache" - callers fall back to an empty store, never fail the run.
func LoadFileCache(fs afero.Fs, path string, configHash uint64) (*FileCache, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, NewCacheError("failed to read cache snapshot", err)
	}

	version, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	if version != cacheFormatVersion {
		return nil, ErrVersionMismatch
	}

	toolVersion, m, err := unmarshalString(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	n += m
	if toolVersion != Version {
		return nil, ErrToolVersionMismatch
	}

	storedHash, m, err := varint.Uint64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	n += m
	if storedHash != configHash {
		return nil, ErrConfigChanged
	}

	count, m, err := varint.Uint64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	n += m

	cache := NewFileCache(configHash)
	for i := uint64(0); i < count; i++ {
		entryPath, m, err := unmarshalString(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCacheCorrupt, i, err)
		}
		n += m

		entry, m, err := unmarshalCachedFileResultFrom(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCacheCorrupt, i, err)
		}
		n += m

		cache.Insert(entryPath, entry.key, entry.violations)
	}

	return cache, nil
}

func cachedFileResultSize(entry cachedFileResult) int {
	size := varint.Int64.Size(entry.key.MtimeSecs)
	size += varint.Int64.Size(int64(entry.key.MtimeNanos))
	size += varint.Int64.Size(entry.key.Size)
	size += varint.Uint64.Size(uint64(len(entry.violations)))
	for _, v := range entry.violations {
		size += cachedViolationSize(v)
	}
	return size
}

func cachedViolationSize(v CachedViolation) int {
	size := ord.SizeString(v.Check, varint.PositiveInt)
	size += varint.PositiveInt.Size(v.Line)
	size += ord.SizeString(v.Kind, varint.PositiveInt)
	size += ord.SizeString(v.Advice, varint.PositiveInt)
	size += varint.Int64.Size(v.Value)
	size += varint.Int64.Size(v.Threshold)
	size += ord.SizeString(v.Pattern, varint.PositiveInt)
	return size
}

func marshalCachedFileResultTo(entry cachedFileResult, buf []byte) int {
	n := varint.Int64.Marshal(entry.key.MtimeSecs, buf)
	n += varint.Int64.Marshal(int64(entry.key.MtimeNanos), buf[n:])
	n += varint.Int64.Marshal(entry.key.Size, buf[n:])
	n += varint.Uint64.Marshal(uint64(len(entry.violations)), buf[n:])
	for _, v := range entry.violations {
		n += marshalCachedViolationTo(v, buf[n:])
	}
	return n
}

func marshalCachedViolationTo(v CachedViolation, buf []byte) int {
	n := ord.MarshalString(v.Check, varint.PositiveInt, buf)
	n += varint.PositiveInt.Marshal(v.Line, buf[n:])
	n += ord.MarshalString(v.Kind, varint.PositiveInt, buf[n:])
	n += ord.MarshalString(v.Advice, varint.PositiveInt, buf[n:])
	n += varint.Int64.Marshal(v.Value, buf[n:])
	n += varint.Int64.Marshal(v.Threshold, buf[n:])
	n += ord.MarshalString(v.Pattern, varint.PositiveInt, buf[n:])
	return n
}

func unmarshalCachedFileResultFrom(buf []byte) (cachedFileResult, int, error) {
	var entry cachedFileResult
	var n int

	secs, m, err := varint.Int64.Unmarshal(buf)
	if err != nil {
		return entry, n, fmt.Errorf("failed to unmarshal mtime seconds: %w", err)
	}
	n += m

	nanos, m, err := varint.Int64.Unmarshal(buf[n:])
	if err != nil {
		return entry, n, fmt.Errorf("failed to unmarshal mtime nanos: %w", err)
	}
	n += m

	fileSize, m, err := varint.Int64.Unmarshal(buf[n:])
	if err != nil {
		return entry, n, fmt.Errorf("failed to unmarshal file size: %w", err)
	}
	n += m

	entry.key = FileCacheKey{
		MtimeSecs:  secs,
		MtimeNanos: int32(nanos),
		Size:       fileSize,
	}

	count, m, err := varint.Uint64.Unmarshal(buf[n:])
	if err != nil {
		return entry, n, fmt.Errorf("failed to unmarshal violations length: %w", err)
	}
	n += m

	entry.violations = make([]CachedViolation, 0, count)
	for i := uint64(0); i < count; i++ {
		v, m, err := unmarshalCachedViolationFrom(buf[n:])
		if err != nil {
			return entry, n, fmt.Errorf("failed to unmarshal violation at index %d: %w", i, err)
		}
		entry.violations = append(entry.violations, v)
		n += m
	}
	if count == 0 {
		entry.violations = nil
	}

	return entry, n, nil
}

func unmarshalCachedViolationFrom(buf []byte) (CachedViolation, int, error) {
	var v CachedViolation
	var n, m int
	var err error

	v.Check, m, err = unmarshalString(buf)
	if err != nil {
		return v, n, fmt.Errorf("failed to unmarshal check name: %w", err)
	}
	n += m

	v.Line, m, err = varint.PositiveInt.Unmarshal(buf[n:])
	if err != nil {
		return v, n, fmt.Errorf("failed to unmarshal line: %w", err)
	}
	n += m

	v.Kind, m, err = unmarshalString(buf[n:])
	if err != nil {
		return v, n, fmt.Errorf("failed to unmarshal kind: %w", err)
	}
	n += m

	v.Advice, m, err = unmarshalString(buf[n:])
	if err != nil {
		return v, n, fmt.Errorf("failed to unmarshal advice: %w", err)
	}
	n += m

	v.Value, m, err = varint.Int64.Unmarshal(buf[n:])
	if err != nil {
		return v, n, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	n += m

	v.Threshold, m, err = varint.Int64.Unmarshal(buf[n:])
	if err != nil {
		return v, n, fmt.Errorf("failed to unmarshal threshold: %w", err)
	}
	n += m

	v.Pattern, m, err = unmarshalString(buf[n:])
	if err != nil {
		return v, n, fmt.Errorf("failed to unmarshal pattern: %w", err)
	}
	n += m

	return v, n, nil
}

// unmarshalString reads a varint length-prefixed string, matching the
// layout produced by ord.MarshalString with varint.PositiveInt.
func unmarshalString(data []byte) (string, int, error) {
	length, bytesRead, err := varint.PositiveInt.Unmarshal(data)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read string length: %w", err)
	}

	if len(data[bytesRead:]) < length {
		return "", bytesRead, fmt.Errorf("buffer too small for string of length %d", length)
	}

	str := string(data[bytesRead : bytesRead+length])
	return str, bytesRead + length, nil
}
