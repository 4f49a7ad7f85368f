package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var ErrFileNotFound = errors.New("file not found")

// FS is the file-access surface the import resolver walks. Canonical must
// return the same string for every spelling of the same file so that cycle
// detection and duplicate tracking work on identity, not on raw path text.
type FS interface {
	ReadFile(path string) ([]byte, error)
	Canonical(path string) (string, error)
	Exists(path string) bool
}

// OS reads straight from the host filesystem.
type OS struct{}

func (OS) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return data, nil
}

func (OS) Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	// Resolve symlinks when the file exists; a missing file still gets a
	// stable absolute path so the error names what the user typed.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func (OS) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Mem is an in-memory file set used by tests and by embedding callers that
// compile sources without touching a disk.
type Mem struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMem() *Mem {
	return &Mem{files: make(map[string][]byte)}
}

// Write stores a deep copy of data under the cleaned path.
func (m *Mem) Write(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[cleanMemPath(path)] = buf
}

func (m *Mem) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[cleanMemPath(path)]
	if !ok {
		return nil, ErrFileNotFound
	}
	return data, nil
}

func (m *Mem) Canonical(path string) (string, error) {
	return cleanMemPath(path), nil
}

func (m *Mem) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[cleanMemPath(path)]
	return ok
}

// List returns the stored paths in sorted order.
func (m *Mem) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.files))
	for k := range m.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cleanMemPath(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}
