package control

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLeaseExclusive(t *testing.T) {
	_, client := newRedis(t)
	leaser := NewLeaser(client, "estate-crawler", time.Minute)
	ctx := context.Background()

	first, err := leaser.Acquire(ctx, "crawl")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "crawl"); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("second Acquire: got %v, want ErrLeaseHeld", err)
	}
	if _, err := leaser.Acquire(ctx, "etl"); err != nil {
		t.Fatalf("other job should not be blocked: %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := leaser.Acquire(ctx, "crawl"); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestLeaseExpiryAndStaleRelease(t *testing.T) {
	mr, client := newRedis(t)
	leaser := NewLeaser(client, "estate-crawler", time.Minute)
	ctx := context.Background()

	stale, err := leaser.Acquire(ctx, "crawl")
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	fresh, err := leaser.Acquire(ctx, "crawl")
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	if ok, err := stale.Renew(ctx); err != nil || ok {
		t.Errorf("stale Renew: got %v, %v; want false", ok, err)
	}

	// releasing the expired lease must not drop the new holder
	if err := stale.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("estate-crawler:lease:crawl") {
		t.Fatal("stale release deleted the new lease")
	}
	if ok, err := fresh.Renew(ctx); err != nil || !ok {
		t.Errorf("fresh Renew: got %v, %v", ok, err)
	}
}
