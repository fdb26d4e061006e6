// Package fastpath provides POSIX path helpers for package-relative paths.
//
// Paths handled here are virtual: they always use forward slashes and are
// never resolved against the process working directory, so results are the
// same on every host OS.
package fastpath

import (
	"path"
	"strings"
)

// Dir returns all but the last element of p.
func Dir(p string) string {
	return path.Dir(p)
}

// Join joins path elements with a single slash and cleans the result.
func Join(elem ...string) string {
	return path.Join(elem...)
}

// Relative returns the path of to relative to from.
//
// A non-absolute to is taken to be relative to from already, so
// Relative("/pkg", "./lib/a") and Relative("/pkg", "/pkg/lib/a") both
// return "lib/a". Equal paths yield ".".
func Relative(from, to string) string {
	from = path.Clean(from)
	if !path.IsAbs(to) {
		to = path.Join(from, to)
	}
	to = path.Clean(to)
	if from == to {
		return "."
	}

	fromParts := split(from)
	toParts := split(to)

	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}

	parts := make([]string, 0, len(fromParts)-common+len(toParts)-common)
	for range fromParts[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, toParts[common:]...)
	return strings.Join(parts, "/")
}

// IsRelativeSpecifier reports whether s names a path relative to the
// requiring package (as opposed to a package name or absolute path).
func IsRelativeSpecifier(s string) bool {
	return strings.HasPrefix(s, ".")
}

// IsPathSpecifier reports whether s names a file path, relative or absolute,
// rather than a package.
func IsPathSpecifier(s string) bool {
	return strings.HasPrefix(s, ".") || strings.HasPrefix(s, "/")
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}
