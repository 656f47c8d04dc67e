package cachemem

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := New()

	if err := c.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := c.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: val=%s ok=%v err=%v", val, ok, err)
	}
	if string(val) != "v1" {
		t.Fatalf("unexpected value: %s", val)
	}

	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, _ = c.Get(ctx, "k1")
	if ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	c := New()

	if err := c.Set(ctx, "k1", []byte("v1"), time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected expired key to be absent")
	}
}

func TestIncr(t *testing.T) {
	ctx := context.Background()
	c := New()

	v, err := c.Incr(ctx, "counter", 1, time.Hour)
	if err != nil {
		t.Fatalf("incr 1: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}

	v, err = c.Incr(ctx, "counter", 4, time.Hour)
	if err != nil {
		t.Fatalf("incr 2: %v", err)
	}
	if v != 5 {
		t.Fatalf("expected 5, got %d", v)
	}
}
