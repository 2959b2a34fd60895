package vigil

import (
	"path/filepath"
	"strings"
)

// NormalizePath converts a path to use forward slashes consistently
// regardless of the operating system and cleans the path.
// Empty paths remain empty.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}

	cleaned := filepath.Clean(path)
	return strings.ReplaceAll(cleaned, "\\", "/")
}

// JoinPaths joins path elements and normalizes the result.
func JoinPaths(elem ...string) string {
	return NormalizePath(filepath.Join(elem...))
}

// IsSubPath checks if childPath is equal to or nested under parentPath.
// Both paths are normalized before comparison.
func IsSubPath(parentPath, childPath string) bool {
	normalizedParent := NormalizePath(parentPath)
	normalizedChild := NormalizePath(childPath)

	if normalizedParent == "" || normalizedParent == "." {
		return true
	}

	if normalizedParent == normalizedChild {
		return true
	}

	if !strings.HasSuffix(normalizedParent, "/") {
		normalizedParent += "/"
	}

	return strings.HasPrefix(normalizedChild, normalizedParent)
}

// DirPath returns the directory portion of a path, normalized.
func DirPath(path string) string {
	return NormalizePath(filepath.Dir(NormalizePath(path)))
}

// RelPath returns path relative to root, normalized to forward slashes.
// If path cannot be made relative it is returned normalized as-is.
func RelPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return NormalizePath(path)
	}
	return NormalizePath(rel)
}
