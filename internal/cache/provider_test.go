package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderGetSet(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q", got)
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderTTL(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryProviderSetNX(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	stored, err := m.SetNX(ctx, "claim", []byte("a"), 0)
	if err != nil || !stored {
		t.Fatalf("first SetNX: stored=%v err=%v", stored, err)
	}
	stored, err = m.SetNX(ctx, "claim", []byte("b"), 0)
	if err != nil || stored {
		t.Fatalf("second SetNX should not store: stored=%v err=%v", stored, err)
	}
	got, err := m.Get(ctx, "claim")
	if err != nil || string(got) != "a" {
		t.Fatalf("value overwritten: %q %v", got, err)
	}
}

func TestMemoryProviderSetNXAfterExpiry(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	if _, err := m.SetNX(ctx, "claim", []byte("a"), 5*time.Millisecond); err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	time.Sleep(15 * time.Millisecond)
	stored, err := m.SetNX(ctx, "claim", []byte("b"), 0)
	if err != nil || !stored {
		t.Fatalf("SetNX after expiry: stored=%v err=%v", stored, err)
	}
}

func TestNoopProvider(t *testing.T) {
	var p NoopProvider
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop should always miss, got %v", err)
	}
	stored, err := p.SetNX(ctx, "k", nil, 0)
	if err != nil || !stored {
		t.Fatalf("noop SetNX: stored=%v err=%v", stored, err)
	}
}
