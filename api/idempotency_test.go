package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduper(client, time.Minute), mr
}

func TestDeduperAddOnce(t *testing.T) {
	d, _ := testDeduper(t)
	ctx := context.Background()

	added, err := d.Add(ctx, "u1", "k1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatal("expected first add to succeed")
	}

	added, err = d.Add(ctx, "u1", "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Fatal("expected duplicate key to be rejected")
	}
}

func TestDeduperKeysScopedPerUser(t *testing.T) {
	d, _ := testDeduper(t)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("expected add for u1")
	}
	if added, _ := d.Add(ctx, "u2", "k1"); !added {
		t.Fatal("expected same key to be fresh for u2")
	}
}

func TestDeduperRemoveAllowsRetry(t *testing.T) {
	d, _ := testDeduper(t)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("expected add")
	}
	if err := d.Remove(ctx, "u1", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("expected add after remove")
	}
}

func TestDeduperKeyExpires(t *testing.T) {
	d, mr := testDeduper(t)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("expected add")
	}
	mr.FastForward(2 * time.Minute)
	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("expected key to have expired")
	}
}
