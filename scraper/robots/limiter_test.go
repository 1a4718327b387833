package robots

import (
	"context"
	"testing"
	"time"
)

func TestHostLimiterSpacesSameHost(t *testing.T) {
	h := NewHostLimiter(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := h.Wait(ctx, "a.example", 0); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 75*time.Millisecond {
		t.Errorf("three fetches finished in %v; want >= ~80ms", elapsed)
	}
}

func TestHostLimiterHostsIndependent(t *testing.T) {
	h := NewHostLimiter(time.Hour)
	ctx := context.Background()

	start := time.Now()
	if err := h.Wait(ctx, "a.example", 0); err != nil {
		t.Fatal(err)
	}
	if err := h.Wait(ctx, "b.example", 0); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Error("first fetch to each host should not wait")
	}
}

func TestHostLimiterCrawlDelayFloor(t *testing.T) {
	h := NewHostLimiter(time.Second)
	if got := h.Interval(3 * time.Second); got != 3*time.Second {
		t.Errorf("Interval: got %v, want 3s", got)
	}
	if got := h.Interval(500 * time.Millisecond); got != time.Second {
		t.Errorf("Interval: got %v, want 1s", got)
	}
}

func TestHostLimiterCancel(t *testing.T) {
	h := NewHostLimiter(time.Hour)
	if err := h.Wait(context.Background(), "a.example", 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := h.Wait(ctx, "a.example", 0); err == nil {
		t.Fatal("expected error when the wait exceeds the context")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait should give up with the context")
	}
}
