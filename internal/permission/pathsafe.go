package permission

import (
	"path/filepath"
	"strings"
)

// IsValidPath reports whether candidate, resolved against rootDir, stays
// inside rootDir.
//
// "." is always valid. A leading "~", a NUL byte in either argument, or any
// resolution whose relative form starts with "..", is absolute, or begins
// with a glob metacharacter is rejected.
func IsValidPath(candidate, rootDir string) bool {
	if candidate == "." {
		return true
	}
	if strings.HasPrefix(candidate, "~") {
		return false
	}
	if strings.ContainsRune(candidate, 0) || strings.ContainsRune(rootDir, 0) {
		return false
	}

	rel, ok := relativeTo(candidate, rootDir)
	if !ok {
		return false
	}
	if strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return false
	}
	if rel != "" && strings.ContainsRune("*?[{", rune(rel[0])) {
		return false
	}
	return true
}

// relativeTo resolves candidate against rootDir and returns the cleaned
// relative path from rootDir to it.
func relativeTo(candidate, rootDir string) (string, bool) {
	root := filepath.Clean(rootDir)
	resolved := candidate
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	rel, err := filepath.Rel(root, filepath.Clean(resolved))
	if err != nil {
		return "", false
	}
	return rel, true
}

// RelativePath returns the slash-separated path of candidate relative to
// rootDir, for glob matching. The second result is false when the path is
// not valid under IsValidPath.
func RelativePath(candidate, rootDir string) (string, bool) {
	if !IsValidPath(candidate, rootDir) {
		return "", false
	}
	rel, ok := relativeTo(candidate, rootDir)
	if !ok {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
