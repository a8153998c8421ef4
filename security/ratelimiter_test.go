package security

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("k1") {
			t.Fatalf("request %d: Allow() = false, want true", i)
		}
	}
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(2)
	rl.Allow("k1")
	rl.Allow("k1")
	if rl.Allow("k1") {
		t.Fatal("3rd request within window: Allow() = true, want false")
	}
	if !rl.Blocked("k1") {
		t.Error("Blocked() = false after exceeding limit, want true")
	}
}

func TestRateLimiterBlockExpires(t *testing.T) {
	rl := NewRateLimiter(1)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return base }
	rl.Allow("k1")
	rl.Allow("k1") // exceeds, blocks until base+5m

	rl.now = func() time.Time { return base.Add(6 * time.Minute) }
	if rl.Blocked("k1") {
		t.Error("Blocked() = true after block expiry, want false")
	}
}

func TestRateLimiterDifferentKeysIndependent(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Allow("a")
	rl.Allow("a") // blocks a
	if !rl.Allow("b") {
		t.Error("Allow(b) = false, want true (independent of a)")
	}
}
