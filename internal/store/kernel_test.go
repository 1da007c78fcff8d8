package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newKernel(t *testing.T, handler http.HandlerFunc) *KernelClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewKernelClient(server.URL, nil)
}

func TestKernelCapabilitiesProbedOnce(t *testing.T) {
	var probes int64
	client := newKernel(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/system/version" {
			atomic.AddInt64(&probes, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": "3.2.0"})
			return
		}
		http.NotFound(w, r)
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		caps, err := client.Capabilities(ctx)
		if err != nil {
			t.Fatalf("capabilities: %v", err)
		}
		if !caps.BatchInsert || !caps.BatchDelete {
			t.Fatalf("expected batch capability for 3.2.0, got %+v", caps)
		}
	}
	if got := atomic.LoadInt64(&probes); got != 1 {
		t.Fatalf("expected exactly one probe, got %d", got)
	}
}

func TestKernelOldVersionLacksBatch(t *testing.T) {
	client := newKernel(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": "3.0.17"})
	})
	caps, err := client.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if caps.BatchInsert || caps.BatchDelete {
		t.Fatalf("3.0.x must not advertise batch calls: %+v", caps)
	}
}

func TestKernelGetUnit(t *testing.T) {
	client := newKernel(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/unit/get" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]string{
				"id":      "20240102150405-abc1234",
				"content": "## Title",
				"type":    "heading",
				"subtype": "h2",
			},
		})
	})
	unit, err := client.GetUnit(context.Background(), "20240102150405-abc1234")
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	if unit.Content != "## Title" || unit.Subtype != "h2" {
		t.Fatalf("unexpected unit: %+v", unit)
	}
}

func TestKernelRejectsInvalidIDBeforeRequest(t *testing.T) {
	called := false
	client := newKernel(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	if _, err := client.GetUnit(context.Background(), "1 OR 1=1"); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if err := client.DeleteUnit(context.Background(), "nope"); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if called {
		t.Fatalf("invalid ids must never reach the kernel")
	}
}

func TestKernelErrorCodeMapping(t *testing.T) {
	client := newKernel(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 404, "msg": "unit not found"})
	})
	if _, err := client.GetUnit(context.Background(), "20240102150405-abc1234"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKernelBatchInsertCountMismatch(t *testing.T) {
	client := newKernel(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"ids": []string{"20240102150405-abc1234"}},
		})
	})
	_, err := client.BatchInsertUnits(context.Background(), []string{"one", "two"}, "20240102150405-abc1234")
	if err == nil {
		t.Fatalf("expected count mismatch error")
	}
}
