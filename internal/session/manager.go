// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// DefaultIdleTimeout is how long a session survives without activity.
const DefaultIdleTimeout = 30 * time.Minute

// Manager issues, validates, rotates, and destroys sessions.
//
// Every mutation of one session happens under that session's keyed
// lock, so duplicate form submissions and rapid retries cannot race a
// counter increment or a rotation. Reads (Validate) take no lock; the
// store's own synchronization makes single reads consistent.
type Manager struct {
	store       Store
	policy      auth.LockoutPolicy
	idleTimeout time.Duration

	locks keyedLocks

	// nowFunc allows injecting a deterministic clock in tests.
	nowFunc func() time.Time
}

// NewManager creates a session Manager.
func NewManager(store Store, policy auth.LockoutPolicy, idleTimeout time.Duration) (*Manager, error) {
	if store == nil {
		return nil, oops.Code("SESSION_NO_STORE").Errorf("session store is required")
	}
	if policy.Threshold <= 0 || policy.Cooldown <= 0 {
		return nil, oops.Code("SESSION_BAD_POLICY").Errorf("lockout policy must have positive threshold and cooldown")
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		store:       store,
		policy:      policy,
		idleTimeout: idleTimeout,
		nowFunc:     time.Now,
	}, nil
}

// Policy returns the lockout policy the manager enforces.
func (m *Manager) Policy() auth.LockoutPolicy {
	return m.policy
}

// GetOrCreate resolves the session for a request. If token identifies
// a live session it is returned with its expiry window slid forward
// and newToken is empty. Otherwise a fresh unauthenticated session is
// created and newToken carries the plaintext token for the cookie.
func (m *Manager) GetOrCreate(ctx context.Context, token string) (s *Session, newToken string, err error) {
	if token != "" {
		existing, lookupErr := m.store.GetByTokenHash(ctx, HashToken(token))
		switch {
		case lookupErr == nil:
			now := m.nowFunc()
			if !existing.IsExpiredAt(now) {
				m.touch(ctx, existing, now)
				return existing, "", nil
			}
			// Expired sessions are treated as absent.
		case errors.Is(lookupErr, ErrNotFound):
			// Fall through to create.
		default:
			return nil, "", oops.Code("STORE_UNAVAILABLE").
				With("operation", "get session by token hash").
				Wrap(storeUnavailable(lookupErr))
		}
	}
	return m.create(ctx)
}

// Validate resolves token to a live session without creating one.
// The expiry window slides forward on success.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_EXPIRED").Errorf("no session token")
	}

	s, err := m.store.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_EXPIRED").Errorf("unknown session token")
		}
		return nil, oops.Code("STORE_UNAVAILABLE").
			With("operation", "get session by token hash").
			Wrap(storeUnavailable(err))
	}

	now := m.nowFunc()
	if s.IsExpiredAt(now) {
		return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
	}

	m.touch(ctx, s, now)
	return s, nil
}

// IsLocked returns true if the session is inside a lockout window,
// along with the remaining cooldown.
func (m *Manager) IsLocked(s *Session) (bool, time.Duration) {
	now := m.nowFunc()
	if !auth.IsLockedOut(s.LockedUntil, now) {
		return false, 0
	}
	return true, m.policy.LockoutRemaining(s.LockedUntil, now)
}

// RecordFailure counts a failed login attempt against the session.
// Returns true if the session is now locked out. A failure recorded
// after a lockout's cooldown has elapsed starts a fresh count.
func (m *Manager) RecordFailure(ctx context.Context, s *Session) (bool, error) {
	unlock := m.locks.lock(s.ID)
	defer unlock()

	now := m.nowFunc()
	failures, lockedUntil, err := m.store.IncrementFailures(ctx, s.ID, m.policy.Threshold, now, now.Add(m.policy.Cooldown))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Session swept mid-request; nothing left to count against.
			return false, nil
		}
		return false, oops.Code("STORE_UNAVAILABLE").
			With("operation", "increment failures").
			With("session_id", s.ID.String()).
			Wrap(storeUnavailable(err))
	}

	s.FailedAttempts = failures
	s.LockedUntil = lockedUntil
	return auth.IsLockedOut(lockedUntil, now), nil
}

// MarkAuthenticated promotes the session after successful credential
// and CSRF verification. The session identifier and CSRF token are
// rotated (the old identifier becomes invalid immediately, resisting
// fixation) and the failure counter resets. Returns the rotated
// session and its plaintext token for the cookie.
func (m *Manager) MarkAuthenticated(ctx context.Context, s *Session) (*Session, string, error) {
	unlock := m.locks.lock(s.ID)
	defer unlock()

	if err := m.store.Delete(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", oops.Code("STORE_UNAVAILABLE").
			With("operation", "delete session for rotation").
			With("session_id", s.ID.String()).
			Wrap(storeUnavailable(err))
	}

	token, hash, err := GenerateToken()
	if err != nil {
		return nil, "", err
	}
	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		return nil, "", err
	}

	now := m.nowFunc()
	rotated, err := New(hash, csrfToken, now, m.idleTimeout)
	if err != nil {
		return nil, "", err
	}
	rotated.Authenticated = true
	rotated.FailedAttempts, rotated.LockedUntil = m.policy.AfterSuccess()

	if err := m.store.Create(ctx, rotated); err != nil {
		return nil, "", oops.Code("STORE_UNAVAILABLE").
			With("operation", "persist rotated session").
			Wrap(storeUnavailable(err))
	}

	return rotated, token, nil
}

// Invalidate destroys the session server-side. The caller is
// responsible for clearing the cookie.
func (m *Manager) Invalidate(ctx context.Context, s *Session) error {
	unlock := m.locks.lock(s.ID)
	defer unlock()

	if err := m.store.Delete(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("STORE_UNAVAILABLE").
			With("operation", "delete session").
			With("session_id", s.ID.String()).
			Wrap(storeUnavailable(err))
	}
	return nil
}

func (m *Manager) create(ctx context.Context) (*Session, string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return nil, "", err
	}
	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		return nil, "", err
	}

	s, err := New(hash, csrfToken, m.nowFunc(), m.idleTimeout)
	if err != nil {
		return nil, "", err
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, "", oops.Code("STORE_UNAVAILABLE").
			With("operation", "persist session").
			Wrap(storeUnavailable(err))
	}
	return s, token, nil
}

// storeUnavailable threads ErrStoreUnavailable into the wrap chain so
// callers can classify the failure with errors.Is.
func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// touch slides the idle window. Best effort: validation succeeds even
// if the store cannot record the new expiry.
func (m *Manager) touch(ctx context.Context, s *Session, now time.Time) {
	s.LastSeenAt = now
	s.ExpiresAt = now.Add(m.idleTimeout)
	_ = m.store.Touch(ctx, s.ID, s.LastSeenAt, s.ExpiresAt) //nolint:errcheck // Best effort
}

// keyedLocks provides per-session mutual exclusion. Entries are
// created on demand and removed when the last holder releases.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[ulid.ULID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *keyedLocks) lock(id ulid.ULID) (unlock func()) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[ulid.ULID]*lockEntry)
	}
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
