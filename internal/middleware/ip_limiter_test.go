package middleware

import (
	"testing"
	"time"
)

func TestIPRateLimitBurstAndRefill(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewIPRateLimit(6*time.Second, 2)
	l.now = func() time.Time { return now }

	if !l.Allow("1.2.3.4") || !l.Allow("1.2.3.4") {
		t.Fatal("burst of 2 should pass")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("third connection should be limited")
	}
	if !l.Allow("5.6.7.8") {
		t.Fatal("other IPs have their own budget")
	}

	now = now.Add(6 * time.Second)
	if !l.Allow("1.2.3.4") {
		t.Fatal("token should refill after the interval")
	}
}

func TestIPRateLimitCleanup(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewIPRateLimit(0, 0)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(2 * time.Hour)
	l.Allow("fresh")

	if n := l.Cleanup(time.Hour); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}
