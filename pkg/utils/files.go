// Package utils holds the small path helpers shared by the CLI.
package utils

import (
	"path/filepath"
	"strings"
)

// ResolveEntry turns the entry path given on the command line into an
// absolute path plus the source directory costume references resolve
// against.
func ResolveEntry(relPath string) (fullPath string, sourceDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	return fullPath, filepath.Dir(fullPath), nil
}

// ReplaceExtension swaps the path's extension, used to derive default
// output names (entry.sbtext becomes entry.sb3 and the other way around).
func ReplaceExtension(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// EnsureExtension appends ext when the path has none, so a bare output name
// still lands on a recognizable file.
func EnsureExtension(path, ext string) string {
	if filepath.Ext(path) == "" {
		return path + ext
	}
	return path
}
