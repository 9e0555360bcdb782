package webhook

import (
	"sync"
	"time"
)

// RateLimiter implements per-IP rate limiting with a sliding one-minute
// window.
type RateLimiter struct {
	mu              sync.Mutex
	windows         map[string][]int64 // request timestamps per IP, ms
	maxPerMinute    int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a rate limiter allowing maxPerMinute requests
// per client IP.
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		windows:         make(map[string][]int64),
		maxPerMinute:    maxPerMinute,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from ip fits inside the window, and
// counts it if so.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	window := pruneWindow(rl.windows[ip], now)

	if len(window) >= rl.maxPerMinute {
		rl.windows[ip] = window
		return false
	}

	rl.windows[ip] = append(window, now)
	return true
}

// RetryAfter returns the seconds until the oldest request of ip ages out
// of the window, rounded up.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := rl.windows[ip]
	if len(window) == 0 {
		return 0
	}

	now := time.Now().UnixMilli()
	remainingMs := 60000 - (now - window[0])
	if remainingMs < 0 {
		return 0
	}
	return int((remainingMs + 999) / 1000)
}

// Stop terminates the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	for ip, window := range rl.windows {
		pruned := pruneWindow(window, now)
		if len(pruned) == 0 {
			delete(rl.windows, ip)
		} else {
			rl.windows[ip] = pruned
		}
	}
}

// pruneWindow drops timestamps older than one minute.
func pruneWindow(window []int64, now int64) []int64 {
	valid := window[:0]
	for _, ts := range window {
		if now-ts < 60000 {
			valid = append(valid, ts)
		}
	}
	return valid
}
