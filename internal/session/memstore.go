// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MemoryStore is an in-process Store for single-instance deployments.
// It is safe for concurrent use. Sessions are indexed by ID with a
// secondary token-hash index; all returned sessions are copies so
// callers never alias store-internal state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[ulid.ULID]*Session
	byHash   map[string]ulid.ULID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[ulid.ULID]*Session),
		byHash:   make(map[string]ulid.ULID),
	}
}

// Create stores a new session.
func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return oops.Code("SESSION_DUPLICATE").
			With("session_id", sess.ID.String()).
			Errorf("session already exists")
	}

	cp := *sess
	s.sessions[cp.ID] = &cp
	s.byHash[cp.TokenHash] = cp.ID
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(ErrNotFound)
	}
	cp := *s.sessions[id]
	return &cp, nil
}

// Touch slides the idle expiry window.
func (s *MemoryStore) Touch(ctx context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(ErrNotFound)
	}
	sess.LastSeenAt = lastSeen
	sess.ExpiresAt = expiresAt
	return nil
}

// IncrementFailures atomically increments the failure counter, setting
// the lockout timestamp when the new count reaches threshold. An
// expired lockout clears the counter first, so the session gets a
// fresh threshold after each cooldown; an active lockout is never
// re-stamped.
func (s *MemoryStore) IncrementFailures(ctx context.Context, id ulid.ULID, threshold int, now, lockedUntil time.Time) (int, *time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return 0, nil, oops.Code("SESSION_NOT_FOUND").Wrap(ErrNotFound)
	}

	active := sess.LockedUntil != nil && sess.LockedUntil.After(now)
	if sess.LockedUntil != nil && !active {
		// Cooldown elapsed: the counter starts over.
		sess.FailedAttempts = 0
		sess.LockedUntil = nil
	}

	sess.FailedAttempts++
	if !active && sess.FailedAttempts >= threshold {
		until := lockedUntil
		sess.LockedUntil = &until
	}

	var lockedCopy *time.Time
	if sess.LockedUntil != nil {
		t := *sess.LockedUntil
		lockedCopy = &t
	}
	return sess.FailedAttempts, lockedCopy, nil
}

// Delete removes a session by ID.
func (s *MemoryStore) Delete(ctx context.Context, id ulid.ULID) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(ErrNotFound)
	}
	delete(s.byHash, sess.TokenHash)
	delete(s.sessions, id)
	return nil
}

// DeleteExpired removes sessions whose expiry is before now.
// The expiry check happens under the write lock, so a session whose
// window was slid forward by an in-flight request is not removed.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.byHash, sess.TokenHash)
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of stored sessions.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sessions)), nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
