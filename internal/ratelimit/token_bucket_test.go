package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketBurst(t *testing.T) {
	bucket := NewTokenBucket(1, 2, time.Minute)

	if !bucket.Allow("client") {
		t.Fatalf("expected first token allowed")
	}
	if !bucket.Allow("client") {
		t.Fatalf("expected second token allowed")
	}
	if bucket.Allow("client") {
		t.Fatalf("expected third token to be rejected")
	}
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	bucket := NewTokenBucket(1, 1, time.Minute)

	if !bucket.Allow("a") {
		t.Fatalf("expected first token for a")
	}
	if bucket.Allow("a") {
		t.Fatalf("expected a to be exhausted")
	}
	if !bucket.Allow("b") {
		t.Fatalf("b should have its own bucket")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	// 100 tokens/sec refills a drained bucket within a few ms.
	bucket := NewTokenBucket(100, 1, time.Minute)

	if !bucket.Allow("client") {
		t.Fatalf("expected first token allowed")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bucket.Allow("client") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bucket never refilled")
}
