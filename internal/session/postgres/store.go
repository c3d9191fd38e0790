// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package postgres implements session.Store on PostgreSQL, for
// deployments running more than one gate instance against a shared
// session table.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/session"
)

// poolIface abstracts pgxpool.Pool for testing with pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements session.Store using PostgreSQL.
type Store struct {
	pool poolIface
}

// NewStore creates a Store over an established connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// newStoreWithPool is used by tests to inject a mock pool.
func newStoreWithPool(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Create stores a new session.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gate_sessions (id, token_hash, csrf_token, authenticated, failed_attempts, locked_until, created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		sess.ID.String(),
		sess.TokenHash,
		sess.CSRFToken,
		sess.Authenticated,
		sess.FailedAttempts,
		sess.LockedUntil,
		sess.CreatedAt,
		sess.LastSeenAt,
		sess.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("SESSION_DUPLICATE").
				With("session_id", sess.ID.String()).
				Wrap(err)
		}
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert gate_session").
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (s *Store) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, token_hash, csrf_token, authenticated, failed_attempts, locked_until, created_at, last_seen_at, expires_at
		FROM gate_sessions
		WHERE token_hash = $1
	`, tokenHash)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(session.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return sess, nil
}

// Touch slides the idle expiry window for a session.
func (s *Store) Touch(ctx context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE gate_sessions SET last_seen_at = $2, expires_at = $3
		WHERE id = $1
	`, id.String(), lastSeen, expiresAt)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "update last_seen_at/expires_at").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(session.ErrNotFound)
	}
	return nil
}

// IncrementFailures atomically increments the failure counter, setting
// locked_until in the same statement when the new count reaches
// threshold. A lockout expired at now clears the counter before the
// increment; an active lockout is left as is. A single UPDATE keeps
// the read-modify-write atomic across concurrent gate instances.
// Every SET expression reads the pre-update row, so the two CASEs see
// the same locked_until.
func (s *Store) IncrementFailures(ctx context.Context, id ulid.ULID, threshold int, now, lockedUntil time.Time) (int, *time.Time, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE gate_sessions
		SET failed_attempts = CASE WHEN locked_until <= $3 THEN 1 ELSE failed_attempts + 1 END,
		    locked_until = CASE
		        WHEN locked_until > $3 THEN locked_until
		        WHEN (CASE WHEN locked_until <= $3 THEN 1 ELSE failed_attempts + 1 END) >= $2 THEN $4
		        ELSE NULL
		    END
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`, id.String(), threshold, now, lockedUntil)

	var failures int
	var locked *time.Time
	if err := row.Scan(&failures, &locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, oops.Code("SESSION_NOT_FOUND").
				With("id", id.String()).
				Wrap(session.ErrNotFound)
		}
		return 0, nil, oops.Code("SESSION_INCREMENT_FAILED").
			With("operation", "increment failed_attempts").
			With("id", id.String()).
			Wrap(err)
	}
	return failures, locked, nil
}

// Delete removes a session by ID.
func (s *Store) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM gate_sessions WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete gate_session").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(session.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry is before now and
// returns the count of deleted records. The WHERE clause is the
// compare-and-delete: a session touched by an in-flight request keeps
// its new expiry and survives the sweep.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM gate_sessions WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired gate_sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Count returns the number of sessions currently stored.
func (s *Store) Count(ctx context.Context) (int64, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM gate_sessions
	`)

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, oops.Code("SESSION_COUNT_FAILED").
			With("operation", "count gate_sessions").
			Wrap(err)
	}
	return count, nil
}

// scannable abstracts pgx.Row for scanSession.
type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*session.Session, error) {
	var (
		idStr string
		sess  session.Session
	)
	err := row.Scan(
		&idStr,
		&sess.TokenHash,
		&sess.CSRFToken,
		&sess.Authenticated,
		&sess.FailedAttempts,
		&sess.LockedUntil,
		&sess.CreatedAt,
		&sess.LastSeenAt,
		&sess.ExpiresAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_BAD_ID").
			With("id", idStr).
			Wrap(err)
	}
	sess.ID = id
	return &sess, nil
}
