package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemReadWrite(t *testing.T) {
	m := NewMem()
	m.Write("dir/a.sbtext", []byte("stage\nend\n"))

	data, err := m.ReadFile("dir/a.sbtext")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "stage\nend\n" {
		t.Errorf("got %q", data)
	}

	if _, err := m.ReadFile("dir/missing.sbtext"); err != ErrFileNotFound {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestMemWriteCopiesData(t *testing.T) {
	m := NewMem()
	src := []byte("sprite Cat\nend\n")
	m.Write("cat.sbtext", src)
	src[0] = 'X'

	data, err := m.ReadFile("cat.sbtext")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if data[0] != 's' {
		t.Error("stored data aliases the caller's slice")
	}
}

func TestMemCanonicalCleansPaths(t *testing.T) {
	m := NewMem()
	m.Write("dir/a.sbtext", []byte("x"))

	got, err := m.Canonical("dir/sub/../a.sbtext")
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if got != "dir/a.sbtext" {
		t.Errorf("Canonical = %q", got)
	}
	if !m.Exists("dir/./a.sbtext") {
		t.Error("Exists should see through path noise")
	}
}

func TestMemList(t *testing.T) {
	m := NewMem()
	m.Write("b.sbtext", []byte("b"))
	m.Write("a.sbtext", []byte("a"))

	got := m.List()
	if len(got) != 2 || got[0] != "a.sbtext" || got[1] != "b.sbtext" {
		t.Errorf("List = %v", got)
	}
}

func TestOSReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.sbtext")
	if err := os.WriteFile(path, []byte("stage\nend\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fsys := OS{}
	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "stage\nend\n" {
		t.Errorf("got %q", data)
	}
	if !fsys.Exists(path) {
		t.Error("Exists = false for a real file")
	}
	if _, err := fsys.ReadFile(filepath.Join(dir, "nope.sbtext")); err != ErrFileNotFound {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestOSCanonicalStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.sbtext")
	if err := os.WriteFile(path, []byte("stage\nend\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fsys := OS{}
	a, err := fsys.Canonical(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := fsys.Canonical(filepath.Join(dir, ".", "main.sbtext"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Canonical not stable: %q vs %q", a, b)
	}
}
