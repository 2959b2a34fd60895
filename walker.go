package vigil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// WalkedFile is a candidate file produced by discovery: its path relative
// to the project root plus the metadata needed to derive a cache key.
type WalkedFile struct {
	Path  string
	Size  int64
	Mtime time.Time
}

// CacheKey derives the cache key for this file from the metadata captured
// at discovery time.
func (f WalkedFile) CacheKey() FileCacheKey {
	return FileCacheKey{
		MtimeSecs:  f.Mtime.Unix(),
		MtimeNanos: int32(f.Mtime.Nanosecond()),
		Size:       f.Size,
	}
}

// Directories skipped entirely during walking. Pruning at the walker level
// prevents any I/O on these subtrees.
var skipDirectories = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".vigil":       true,
}

// DiscoverFiles walks root and returns every candidate file with the
// metadata needed for cache key derivation. Hidden directories, well-known
// dependency directories, and configured excludes are pruned. Files are
// matched by extension from cfg.Extensions; go.mod is always included so
// the build check can see it.
func DiscoverFiles(fs afero.Fs, root string, cfg Config, logger *slog.Logger) ([]WalkedFile, error) {
	var files []WalkedFile

	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			logger.Warn("Error accessing path during discovery", "path", path, "error", err)
			return nil // Continue walking
		}

		rel := RelPath(root, path)

		if info.IsDir() {
			if path == root {
				return nil
			}
			name := info.Name()
			if skipDirectories[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			for _, exclude := range cfg.Exclude {
				if IsSubPath(exclude, rel) {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		if !matchesExtensions(info.Name(), cfg.Extensions) {
			return nil
		}

		for _, exclude := range cfg.Exclude {
			if IsSubPath(exclude, rel) {
				return nil
			}
		}

		files = append(files, WalkedFile{
			Path:  rel,
			Size:  info.Size(),
			Mtime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, NewFSError("error walking the path", err)
	}

	return files, nil
}

func matchesExtensions(name string, extensions []string) bool {
	if name == "go.mod" {
		return true
	}
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
