package services

import (
	"sync"
	"time"

	"voting-oracle/internal/config"
)

// RateLimiter enforces per-wallet and global submission ceilings over a
// sliding window.
type RateLimiter interface {
	Allow(wallet string) (bool, time.Duration)
	Stop()
}

// slidingWindow tracks counts for the current and previous window and
// weights the previous one by its remaining overlap, smoothing the boundary
// a plain fixed window would have.
type slidingWindow struct {
	currentStart time.Time
	current      int
	previous     int
}

type walletRateLimiter struct {
	mu          sync.Mutex
	windows     map[string]*slidingWindow
	global      slidingWindow
	window      time.Duration
	perLimit    int
	globalLimit int

	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewRateLimiter builds a limiter from config and starts its cleanup loop.
func NewRateLimiter(cfg config.RateLimitConfig) RateLimiter {
	window := cfg.Window()
	if window <= 0 {
		window = time.Minute
	}
	rl := &walletRateLimiter{
		windows:     make(map[string]*slidingWindow),
		window:      window,
		perLimit:    cfg.MaxRequests,
		globalLimit: cfg.GlobalMaxRequests,
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow records one submission attempt for wallet and reports whether it is
// within both the per-wallet and global ceilings. When denied, the returned
// duration is how long until the window frees up.
func (r *walletRateLimiter) Allow(wallet string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if r.globalLimit > 0 {
		r.advance(&r.global, now)
		if r.weighted(&r.global, now) >= float64(r.globalLimit) {
			return false, r.retryAfter(&r.global, now)
		}
	}

	w, ok := r.windows[wallet]
	if !ok {
		w = &slidingWindow{currentStart: now.Truncate(r.window)}
		r.windows[wallet] = w
	}
	r.advance(w, now)
	if r.perLimit > 0 && r.weighted(w, now) >= float64(r.perLimit) {
		return false, r.retryAfter(w, now)
	}

	w.current++
	r.global.current++
	return true, 0
}

// advance rolls the window forward, shifting or discarding buckets.
func (r *walletRateLimiter) advance(w *slidingWindow, now time.Time) {
	start := now.Truncate(r.window)
	switch {
	case w.currentStart.Equal(start):
	case w.currentStart.Equal(start.Add(-r.window)):
		w.previous = w.current
		w.current = 0
		w.currentStart = start
	default:
		w.previous = 0
		w.current = 0
		w.currentStart = start
	}
}

// weighted is the sliding-window estimate: current count plus the previous
// window scaled by how much of it still overlaps the lookback period.
func (r *walletRateLimiter) weighted(w *slidingWindow, now time.Time) float64 {
	elapsed := now.Sub(w.currentStart)
	overlap := 1.0 - float64(elapsed)/float64(r.window)
	if overlap < 0 {
		overlap = 0
	}
	return float64(w.current) + overlap*float64(w.previous)
}

func (r *walletRateLimiter) retryAfter(w *slidingWindow, now time.Time) time.Duration {
	remaining := w.currentStart.Add(r.window).Sub(now)
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining
}

// cleanupLoop evicts wallets with no recent activity so the map stays
// bounded by the active wallet set.
func (r *walletRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.mu.Lock()
			cutoff := r.now().Add(-2 * r.window)
			for wallet, w := range r.windows {
				if w.currentStart.Before(cutoff) {
					delete(r.windows, wallet)
				}
			}
			r.mu.Unlock()
		}
	}
}

func (r *walletRateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}
