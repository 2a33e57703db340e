// Package persistence provides the built-in implementations of the
// stepchain status store port: an in-memory store for tests and local use,
// and a SQLite store for embedded durability. Further backends (Redis,
// PostgreSQL, MongoDB) live in their own submodules.
package persistence

import (
	"errors"
	"strings"
)

var (
	// ErrPathNotFound is returned when a storage path does not exist.
	ErrPathNotFound = errors.New("path not found")

	// ErrConnClosed is returned when a closed connection is used.
	ErrConnClosed = errors.New("connection closed")
)

// Ancestors returns every ancestor of path from the root down, excluding
// path itself. Paths are "/"-separated; a leading "/" is preserved.
func Ancestors(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) <= 1 {
		return nil
	}
	prefix := ""
	if strings.HasPrefix(path, "/") {
		prefix = "/"
	}
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, prefix+strings.Join(parts[:i], "/"))
	}
	return out
}
