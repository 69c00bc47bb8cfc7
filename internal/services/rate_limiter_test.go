package services

import (
	"fmt"
	"testing"
	"time"
)

// newTestLimiter builds a limiter with a controllable clock and no cleanup
// goroutine.
func newTestLimiter(window time.Duration, perLimit, globalLimit int) (*walletRateLimiter, *time.Time) {
	clock := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	rl := &walletRateLimiter{
		windows:     make(map[string]*slidingWindow),
		window:      window,
		perLimit:    perLimit,
		globalLimit: globalLimit,
		stopChan:    make(chan struct{}),
	}
	rl.now = func() time.Time { return clock }
	return rl, &clock
}

func TestAllowPerWalletCeiling(t *testing.T) {
	rl, _ := newTestLimiter(time.Minute, 10, 0)

	for i := 0; i < 10; i++ {
		ok, _ := rl.Allow("0xaaa")
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, retryAfter := rl.Allow("0xaaa")
	if ok {
		t.Fatal("11th request should be denied")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter out of range: %v", retryAfter)
	}

	// Other wallets are unaffected.
	if ok, _ := rl.Allow("0xbbb"); !ok {
		t.Fatal("different wallet should be allowed")
	}
}

func TestAllowWindowDecay(t *testing.T) {
	rl, clock := newTestLimiter(time.Minute, 10, 0)

	// Fill the wallet's budget in the first window.
	for i := 0; i < 10; i++ {
		if ok, _ := rl.Allow("0xaaa"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// At the rollover boundary the previous bucket still weighs fully, so
	// the wallet stays throttled.
	*clock = clock.Add(time.Minute)
	if ok, _ := rl.Allow("0xaaa"); ok {
		t.Fatal("wallet should still be throttled at the rollover boundary")
	}

	// Late in the next window the overlap has decayed below the limit.
	*clock = clock.Add(50 * time.Second)
	if ok, _ := rl.Allow("0xaaa"); !ok {
		t.Fatal("wallet should be allowed once the previous window decays")
	}

	// Two full windows later everything is forgotten.
	*clock = clock.Add(3 * time.Minute)
	for i := 0; i < 10; i++ {
		if ok, _ := rl.Allow("0xaaa"); !ok {
			t.Fatalf("request %d should be allowed after full reset", i+1)
		}
	}
}

func TestAllowGlobalCeiling(t *testing.T) {
	rl, _ := newTestLimiter(time.Minute, 100, 20)

	for i := 0; i < 20; i++ {
		wallet := fmt.Sprintf("0x%03d", i)
		if ok, _ := rl.Allow(wallet); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// Every wallet is under its own limit but the global ceiling is hit.
	ok, retryAfter := rl.Allow("0xfresh")
	if ok {
		t.Fatal("global ceiling should deny the 21st request")
	}
	if retryAfter <= 0 {
		t.Fatalf("retryAfter should be positive, got %v", retryAfter)
	}
}

func TestAllowZeroLimitsDisabled(t *testing.T) {
	rl, _ := newTestLimiter(time.Minute, 0, 0)

	for i := 0; i < 500; i++ {
		if ok, _ := rl.Allow("0xaaa"); !ok {
			t.Fatalf("limiter with zero limits should never deny (request %d)", i+1)
		}
	}
}
