// Package kvstore provides the small key-value preference store injected
// into the resolver and orchestrator (last-used preset, last mode). Reads of
// missing keys yield the zero value; write failures are reported to the
// caller for logging and are never fatal.
package kvstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

type KV interface {
	Get(key string) (string, bool)
	Put(key, value string) error
}

// FileKV persists the map as one JSON file under the data dir.
type FileKV struct {
	path   string
	mu     sync.Mutex
	loaded bool
	values map[string]string
}

func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

func (f *FileKV) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked()
	value, ok := f.values[key]
	return value, ok
}

func (f *FileKV) Put(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked()
	f.values[key] = value
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileKV) loadLocked() {
	if f.loaded {
		return
	}
	f.loaded = true
	f.values = make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		return
	}
	// a corrupt file degrades to an empty store
	_ = json.Unmarshal(data, &f.values)
	if f.values == nil {
		f.values = make(map[string]string)
	}
}

// MemKV is an in-memory KV for tests.
type MemKV struct {
	mu     sync.Mutex
	values map[string]string
	Fail   bool
}

func NewMemKV() *MemKV {
	return &MemKV{values: make(map[string]string)}
}

func (m *MemKV) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *MemKV) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return os.ErrPermission
	}
	m.values[key] = value
	return nil
}
