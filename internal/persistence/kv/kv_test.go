package kv

import (
	"context"
	"path/filepath"
	"testing"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if _, ok, err := s.Get(ctx, "profile"); err != nil || ok {
		t.Fatalf("empty get: ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "profile", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "profile", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.Get(ctx, "profile")
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}
	if err := s.Delete(ctx, "profile"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "profile"); ok {
		t.Fatalf("key survived delete")
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kv.db")
	s, err := OpenSQLite(path, "u1")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestSQLiteScopesAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := OpenSQLite(path, "u1")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("set: %v", err)
	}
	other := s.Scoped("u2")
	if _, ok, _ := other.Get(ctx, "k"); ok {
		t.Fatalf("scopes must not share keys")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenSQLite(path, "u1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(v) != "one" {
		t.Fatalf("value not durable: v=%q ok=%v err=%v", v, ok, err)
	}
}
