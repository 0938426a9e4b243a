package kvstore

import (
	"context"
	"path/filepath"
	"testing"
)

// mustOpen creates an in-memory store and registers cleanup
func mustOpen(t *testing.T) (*Store, context.Context) {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, context.Background()
}

func TestGetMissingKey(t *testing.T) {
	s, ctx := mustOpen(t)

	value, ok, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing key")
	}
	if value != "" {
		t.Errorf("value = %q, want empty", value)
	}
}

func TestSetAndGet(t *testing.T) {
	s, ctx := mustOpen(t)

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set (overwrite) error: %v", err)
	}

	value, ok, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !ok || value != "v2" {
		t.Errorf("Get = (%q, %v), want (v2, true)", value, ok)
	}
}

func TestDelete(t *testing.T) {
	s, ctx := mustOpen(t)

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key still present after Delete")
	}
	if err := s.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Delete of missing key returned error: %v", err)
	}
}

// TestPersistsAcrossReopen verifies values survive closing the store
func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.Set(ctx, "k", "durable"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	_ = s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	value, ok, err := reopened.Get(ctx, "k")
	if err != nil || !ok || value != "durable" {
		t.Errorf("Get after reopen = (%q, %v, %v), want (durable, true, nil)", value, ok, err)
	}
}
