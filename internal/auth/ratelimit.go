// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"time"
)

// Default brute-force policy.
const (
	// DefaultLockoutThreshold is the number of consecutive failures
	// that triggers a lockout.
	DefaultLockoutThreshold = 5

	// DefaultLockoutCooldown is how long login attempts are rejected
	// once the threshold is reached.
	DefaultLockoutCooldown = 15 * time.Minute
)

// LockoutPolicy computes lockout state from per-session failure counts.
// Cooldowns are wall-clock timestamps, not timers, so they survive
// process restarts when session state is persisted.
type LockoutPolicy struct {
	Threshold int
	Cooldown  time.Duration
}

// DefaultLockoutPolicy returns the default policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: DefaultLockoutThreshold,
		Cooldown:  DefaultLockoutCooldown,
	}
}

// IsLockedOut returns true if the lockout timestamp is in the future.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// LockoutRemaining returns the time until an active lockout expires,
// or zero if there is none.
func (p LockoutPolicy) LockoutRemaining(lockedUntil *time.Time, now time.Time) time.Duration {
	if !IsLockedOut(lockedUntil, now) {
		return 0
	}
	return lockedUntil.Sub(now)
}

// AfterFailure returns the lockout timestamp to store after a failed
// attempt given the new failure count. Returns nil while the count is
// below the threshold.
func (p LockoutPolicy) AfterFailure(failures int, now time.Time) *time.Time {
	if failures < p.Threshold {
		return nil
	}
	until := now.Add(p.Cooldown)
	return &until
}

// AfterSuccess returns the values to store after a successful login:
// zero failures and no lockout.
func (p LockoutPolicy) AfterSuccess() (int, *time.Time) {
	return 0, nil
}
