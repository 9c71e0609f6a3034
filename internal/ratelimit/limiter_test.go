package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConnectLimiterAllowsWithinBurst(t *testing.T) {
	l := NewConnectLimiter(1, 3, time.Minute, zerolog.Nop())
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("attempt %d rejected within burst", i)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("attempt beyond burst was allowed")
	}
}

func TestConnectLimiterTracksIndependentIPs(t *testing.T) {
	l := NewConnectLimiter(1, 1, time.Minute, zerolog.Nop())
	defer l.Stop()

	if !l.Allow("1.1.1.1") {
		t.Fatal("first IP's first attempt rejected")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("second IP's first attempt rejected")
	}
	if l.TrackedIPs() != 2 {
		t.Fatalf("TrackedIPs() = %d, want 2", l.TrackedIPs())
	}
}

func TestConnectLimiterDisabledWhenRateIsZero(t *testing.T) {
	l := NewConnectLimiter(0, 0, time.Minute, zerolog.Nop())
	defer l.Stop()

	for i := 0; i < 100; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatal("disabled limiter rejected an attempt")
		}
	}
}

func TestMessageLimiterAllowsWithinBurst(t *testing.T) {
	m := NewMessageLimiter(1, 2)
	if !m.Allow() || !m.Allow() {
		t.Fatal("attempts within burst rejected")
	}
	if m.Allow() {
		t.Fatal("attempt beyond burst was allowed")
	}
}
