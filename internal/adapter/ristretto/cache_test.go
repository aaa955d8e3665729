package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestCacheSetGetDelete(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "scenario:t:s1:v1", []byte(`{"name":"weather"}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok, err := c.Get(ctx, "scenario:t:s1:v1")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if string(val) != `{"name":"weather"}` {
		t.Fatalf("unexpected value %s", val)
	}

	if err := c.Delete(ctx, "scenario:t:s1:v1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "scenario:t:s1:v1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestNewRejectsZeroSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero size")
	}
}
