package kvstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileKVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	kv := NewFileKV(path)
	if _, ok := kv.Get("last_preset"); ok {
		t.Fatalf("expected missing key")
	}
	if err := kv.Put("last_preset", "summarize"); err != nil {
		t.Fatalf("put: %v", err)
	}

	reloaded := NewFileKV(path)
	value, ok := reloaded.Get("last_preset")
	if !ok || value != "summarize" {
		t.Fatalf("expected persisted value, got %q ok=%v", value, ok)
	}
}

func TestFileKVCorruptFileDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	kv := NewFileKV(path)
	if _, ok := kv.Get("anything"); ok {
		t.Fatalf("corrupt file should behave as empty")
	}
	if err := kv.Put("k", "v"); err != nil {
		t.Fatalf("put after corrupt load: %v", err)
	}
}
