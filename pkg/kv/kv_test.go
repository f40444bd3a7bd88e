package kv

import (
	"context"
	"errors"
	"testing"
)

// storeTests runs the common Store contract against an implementation.
func storeTests(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get = %q, want %q", got, "v1")
	}

	// Overwrite.
	if err := s.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Fatalf("Get after overwrite = %q, want %q", got, "v2")
	}

	// Delete is idempotent.
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	_, err = s.Get(ctx, "k")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	storeTests(t, s)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	storeTests(t, s)
}

func TestBadgerRequiresDir(t *testing.T) {
	if _, err := NewBadger(BadgerOptions{}); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	v := []byte("abc")
	if err := s.Set(ctx, "k", v); err != nil {
		t.Fatal(err)
	}
	v[0] = 'x'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abc" {
		t.Fatalf("stored value mutated: %q", got)
	}
}
