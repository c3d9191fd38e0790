// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package session manages authenticated sessions for the gate.
//
// A Session carries everything the gate tracks per client: the hashed
// session token, the CSRF token bound to the login form, the failure
// counter and lockout timestamp, and the idle expiry. The plaintext
// session token exists only in the client cookie; the server stores a
// SHA-256 hash, so a leaked session store does not yield usable
// cookies.
//
// All mutation goes through Manager, which holds a per-session lock so
// concurrent requests cannot under-count failures or observe a
// half-rotated session.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	// TokenBytes is the entropy of session and CSRF tokens.
	// 32 bytes = 256 bits = 64 hex chars.
	TokenBytes = 32
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrStoreUnavailable marks a backend I/O failure. Callers must deny
// the request rather than fall back to unauthenticated handling.
// Detect it with errors.Is: backend errors carry their own codes, and
// oops surfaces the deepest code in a wrap chain, so a code check on
// the outer wrapper is not a reliable signal.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Session is the server-side state for one client.
type Session struct {
	ID             ulid.ULID
	TokenHash      string
	CSRFToken      string
	Authenticated  bool
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	LastSeenAt     time.Time
	ExpiresAt      time.Time
}

// New creates a validated unauthenticated Session.
func New(tokenHash, csrfToken string, now time.Time, idleTimeout time.Duration) (*Session, error) {
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if csrfToken == "" {
		return nil, oops.Code("SESSION_INVALID_CSRF").Errorf("CSRF token cannot be empty")
	}
	if idleTimeout <= 0 {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("idle timeout must be positive")
	}

	return &Session{
		ID:         ulid.Make(),
		TokenHash:  tokenHash,
		CSRFToken:  csrfToken,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(idleTimeout),
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// GenerateToken creates a secure random session token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext token
// goes in the cookie; only the hash is stored.
func GenerateToken() (token, hash string, err error) {
	raw := make([]byte, TokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}

	token = hex.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken computes the SHA-256 hash of a session token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// GenerateCSRFToken creates a random per-session CSRF token.
func GenerateCSRFToken() (string, error) {
	raw := make([]byte, TokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", oops.Code("CSRF_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}
	return hex.EncodeToString(raw), nil
}

// CSRFTokenMatches compares a submitted CSRF token against the
// session's current token in constant time. Empty tokens never match.
func CSRFTokenMatches(submitted, current string) bool {
	if submitted == "" || current == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(current)) == 1
}

// Store persists sessions. Implementations must make each method
// atomic with respect to a single session so read-modify-write
// operations (failure counting, rotation) behave under concurrency.
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, s *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	// Returns ErrNotFound (wrapped) if absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Touch slides the idle expiry window for a session.
	Touch(ctx context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error

	// IncrementFailures atomically increments the failure counter and,
	// when the new count reaches threshold, records lockedUntil.
	// A lockout already expired at now clears the counter before the
	// increment; a lockout still active at now is never extended.
	// Returns the new count and the stored lockout timestamp.
	IncrementFailures(ctx context.Context, id ulid.ULID, threshold int, now, lockedUntil time.Time) (int, *time.Time, error)

	// Delete removes a session by ID.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteExpired removes sessions whose expiry is before now and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Count returns the number of sessions currently stored,
	// expired or not.
	Count(ctx context.Context) (int64, error)
}
