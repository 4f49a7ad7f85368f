package utils

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestReplaceExtension(t *testing.T) {
	tests := []struct {
		path, ext, want string
	}{
		{"game/main.sbtext", ".sb3", "game/main.sb3"},
		{"main.sb3", ".sbtext", "main.sbtext"},
		{"noext", ".sb3", "noext.sb3"},
		{"a.b.c", ".sb3", "a.b.sb3"},
	}
	for _, tt := range tests {
		if got := ReplaceExtension(tt.path, tt.ext); got != tt.want {
			t.Errorf("ReplaceExtension(%q, %q) = %q, want %q", tt.path, tt.ext, got, tt.want)
		}
	}
}

func TestEnsureExtension(t *testing.T) {
	if got := EnsureExtension("out", ".sb3"); got != "out.sb3" {
		t.Errorf("EnsureExtension bare = %q", got)
	}
	if got := EnsureExtension("out.zip", ".sb3"); got != "out.zip" {
		t.Errorf("EnsureExtension keeps existing = %q", got)
	}
}

func TestResolveEntry(t *testing.T) {
	full, dir, err := ResolveEntry("game/main.sbtext")
	if err != nil {
		t.Fatalf("ResolveEntry failed: %v", err)
	}
	if !filepath.IsAbs(full) {
		t.Errorf("full path %q is not absolute", full)
	}
	if !strings.HasSuffix(filepath.ToSlash(full), "game/main.sbtext") {
		t.Errorf("full path = %q", full)
	}
	if dir != filepath.Dir(full) {
		t.Errorf("source dir = %q, want %q", dir, filepath.Dir(full))
	}
}
