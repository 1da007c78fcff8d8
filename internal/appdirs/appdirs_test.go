package appdirs

import (
	"os"
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	os.Setenv("BLOCKPILOT_DATA_DIR", "/tmp/blockpilot-test")
	defer os.Unsetenv("BLOCKPILOT_DATA_DIR")
	path, err := DataDir()
	if err != nil {
		t.Fatalf("data dir: %v", err)
	}
	if path != "/tmp/blockpilot-test" {
		t.Fatalf("expected override path, got %s", path)
	}
}
