// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package gate

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig tunes the per-client token bucket that sits in front
// of the credential check. It backstops the per-session lockout: a
// client that keeps discarding its cookie never accumulates session
// failures, but it cannot exceed this rate either.
type ThrottleConfig struct {
	// Rate is the sustained number of login submissions allowed per
	// second per client address.
	Rate float64

	// Burst is the instantaneous burst size.
	Burst int

	// CleanupInterval controls how often idle entries are evicted.
	CleanupInterval time.Duration

	// EntryTTL is how long an entry survives without being touched.
	EntryTTL time.Duration
}

// DefaultThrottleConfig returns settings suitable for an interactive
// login form: a human retyping a password stays well under it, a
// scripted guesser does not.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Rate:            1,
		Burst:           5,
		CleanupInterval: time.Minute,
		EntryTTL:        10 * time.Minute,
	}
}

type throttleEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPThrottle applies a token bucket per client address. Entries are
// evicted after EntryTTL of inactivity so the map does not grow with
// every address ever seen.
type IPThrottle struct {
	config  ThrottleConfig
	mu      sync.RWMutex
	entries map[string]*throttleEntry

	nowFunc func() time.Time

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewIPThrottle creates a throttle and starts its eviction loop. Call
// Close when done to stop the loop.
func NewIPThrottle(config ThrottleConfig) *IPThrottle {
	t := &IPThrottle{
		config:      config,
		entries:     make(map[string]*throttleEntry),
		nowFunc:     time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// Allow reports whether the given client address may attempt a login
// right now.
func (t *IPThrottle) Allow(addr string) bool {
	now := t.nowFunc()

	t.mu.RLock()
	entry, ok := t.entries[addr]
	t.mu.RUnlock()

	if !ok {
		t.mu.Lock()
		// Re-check under the write lock.
		entry, ok = t.entries[addr]
		if !ok {
			entry = &throttleEntry{
				limiter: rate.NewLimiter(rate.Limit(t.config.Rate), t.config.Burst),
			}
			t.entries[addr] = entry
		}
		entry.lastAccess = now
		t.mu.Unlock()
	} else {
		t.mu.Lock()
		entry.lastAccess = now
		t.mu.Unlock()
	}

	return entry.limiter.Allow()
}

// Close stops the eviction loop and waits for it to exit.
func (t *IPThrottle) Close() {
	close(t.stopCleanup)
	<-t.cleanupDone
}

func (t *IPThrottle) cleanupLoop() {
	defer close(t.cleanupDone)

	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCleanup:
			return
		case <-ticker.C:
			t.evictIdle()
		}
	}
}

func (t *IPThrottle) evictIdle() {
	cutoff := t.nowFunc().Add(-t.config.EntryTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for addr, entry := range t.entries {
		if entry.lastAccess.Before(cutoff) {
			delete(t.entries, addr)
		}
	}
}

// clientAddr extracts the client host from the request's RemoteAddr,
// dropping the port. The raw address is returned as-is when it does
// not parse as host:port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
