package objstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryPutGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	ref, err := s.Put(ctx, "pages/doc/page-001.png", []byte("one"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("got %q, want %q", got, "one")
	}
}

func TestMemoryOverwrite(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.Put(ctx, "k", []byte("first"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put(ctx, "k", []byte("second"), "image/png"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}
}

func TestMemoryNotFound(t *testing.T) {
	s := NewMemory()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	ref, err := s.Put(ctx, "questions/doc/q-1.png", []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "img" {
		t.Errorf("got %q, want %q", got, "img")
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if _, err := s.Put(context.Background(), "../escape", []byte("x"), ""); err == nil {
		t.Error("expected error for traversal key")
	}
}

func TestLocalNotFound(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if _, err := s.Get(context.Background(), "no/such/key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestNewBackendSelection(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{Backend: "memory"}); err != nil {
		t.Errorf("memory: %v", err)
	}
	if _, err := New(ctx, Config{}); err != nil {
		t.Errorf("default: %v", err)
	}
	if _, err := New(ctx, Config{Backend: "local", Dir: t.TempDir()}); err != nil {
		t.Errorf("local: %v", err)
	}
	if _, err := New(ctx, Config{Backend: "local"}); err == nil {
		t.Error("local without dir: expected error")
	}
	if _, err := New(ctx, Config{Backend: "gcs"}); err == nil {
		t.Error("gcs without bucket: expected error")
	}
	if _, err := New(ctx, Config{Backend: "tape"}); err == nil {
		t.Error("unknown backend: expected error")
	}
}
