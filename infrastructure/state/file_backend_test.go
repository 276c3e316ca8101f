package state

import (
	"context"
	"errors"
	"testing"
)

func TestFileBackend_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	if err := backend.Save(ctx, "dedupe:telegram:12345", []byte("seen")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := backend.Load(ctx, "dedupe:telegram:12345")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != "seen" {
		t.Fatalf("expected 'seen', got %q", string(data))
	}

	if err := backend.Delete(ctx, "dedupe:telegram:12345"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := backend.Load(ctx, "dedupe:telegram:12345"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileBackend_ListPrefix(t *testing.T) {
	ctx := context.Background()
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	_ = backend.Save(ctx, "a:1", []byte("x"))
	_ = backend.Save(ctx, "a:2", []byte("x"))
	_ = backend.Save(ctx, "b:1", []byte("x"))

	keys, err := backend.List(ctx, "a:")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}

func TestFileBackend_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b1, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	_ = b1.Save(ctx, "k", []byte("v"))

	b2, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	data, err := b2.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != "v" {
		t.Fatalf("expected 'v', got %q", string(data))
	}
}
