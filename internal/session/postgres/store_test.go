// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/session"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newStoreWithPool(mock), mock
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := session.New("tokenhash123", "csrftoken456", now, 30*time.Minute)
	require.NoError(t, err)
	return s
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts session", func(t *testing.T) {
		store, mock := newMockStore(t)
		s := testSession(t)

		mock.ExpectExec(`INSERT INTO gate_sessions`).
			WithArgs(s.ID.String(), s.TokenHash, s.CSRFToken, s.Authenticated,
				s.FailedAttempts, s.LockedUntil, s.CreatedAt, s.LastSeenAt, s.ExpiresAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Create(ctx, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to SESSION_DUPLICATE", func(t *testing.T) {
		store, mock := newMockStore(t)
		s := testSession(t)

		mock.ExpectExec(`INSERT INTO gate_sessions`).
			WithArgs(s.ID.String(), s.TokenHash, s.CSRFToken, s.Authenticated,
				s.FailedAttempts, s.LockedUntil, s.CreatedAt, s.LastSeenAt, s.ExpiresAt).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := store.Create(ctx, s)
		errutil.AssertErrorCode(t, err, "SESSION_DUPLICATE")
	})

	t.Run("database error maps to SESSION_CREATE_FAILED", func(t *testing.T) {
		store, mock := newMockStore(t)
		s := testSession(t)

		mock.ExpectExec(`INSERT INTO gate_sessions`).
			WillReturnError(errors.New("connection refused"))

		err := store.Create(ctx, s)
		errutil.AssertErrorCode(t, err, "SESSION_CREATE_FAILED")
	})
}

func TestStore_GetByTokenHash(t *testing.T) {
	ctx := context.Background()
	columns := []string{"id", "token_hash", "csrf_token", "authenticated", "failed_attempts", "locked_until", "created_at", "last_seen_at", "expires_at"}

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		s := testSession(t)

		mock.ExpectQuery(`SELECT .+ FROM gate_sessions WHERE token_hash`).
			WithArgs(s.TokenHash).
			WillReturnRows(pgxmock.NewRows(columns).AddRow(
				s.ID.String(), s.TokenHash, s.CSRFToken, s.Authenticated,
				s.FailedAttempts, s.LockedUntil, s.CreatedAt, s.LastSeenAt, s.ExpiresAt,
			))

		got, err := store.GetByTokenHash(ctx, s.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, s.CSRFToken, got.CSRFToken)
		assert.Equal(t, s.ExpiresAt, got.ExpiresAt)
	})

	t.Run("absent maps to ErrNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`SELECT .+ FROM gate_sessions WHERE token_hash`).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows(columns))

		_, err := store.GetByTokenHash(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("unparseable id is an error", func(t *testing.T) {
		store, mock := newMockStore(t)
		s := testSession(t)

		mock.ExpectQuery(`SELECT .+ FROM gate_sessions WHERE token_hash`).
			WithArgs(s.TokenHash).
			WillReturnRows(pgxmock.NewRows(columns).AddRow(
				"not-a-ulid", s.TokenHash, s.CSRFToken, s.Authenticated,
				s.FailedAttempts, s.LockedUntil, s.CreatedAt, s.LastSeenAt, s.ExpiresAt,
			))

		// The scan layer's own code wins over the outer wrap.
		_, err := store.GetByTokenHash(ctx, s.TokenHash)
		errutil.AssertErrorCode(t, err, "SESSION_BAD_ID")
	})
}

func TestStore_Touch(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	now := time.Now()

	t.Run("updates timestamps", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE gate_sessions SET last_seen_at`).
			WithArgs(id.String(), now, now.Add(30*time.Minute)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.Touch(ctx, id, now, now.Add(30*time.Minute)))
	})

	t.Run("absent session maps to ErrNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE gate_sessions SET last_seen_at`).
			WithArgs(id.String(), now, now.Add(30*time.Minute)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.Touch(ctx, id, now, now.Add(30*time.Minute))
		assert.ErrorIs(t, err, session.ErrNotFound)
	})
}

func TestStore_IncrementFailures(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	now := time.Now()
	until := now.Add(15 * time.Minute)

	t.Run("returns new count below threshold", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`UPDATE gate_sessions`).
			WithArgs(id.String(), 5, now, until).
			WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "locked_until"}).
				AddRow(2, (*time.Time)(nil)))

		failures, locked, err := store.IncrementFailures(ctx, id, 5, now, until)
		require.NoError(t, err)
		assert.Equal(t, 2, failures)
		assert.Nil(t, locked)
	})

	t.Run("returns lockout at threshold", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`UPDATE gate_sessions`).
			WithArgs(id.String(), 5, now, until).
			WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "locked_until"}).
				AddRow(5, &until))

		failures, locked, err := store.IncrementFailures(ctx, id, 5, now, until)
		require.NoError(t, err)
		assert.Equal(t, 5, failures)
		require.NotNil(t, locked)
		assert.Equal(t, until, *locked)
	})

	t.Run("returns reset count after an expired lockout", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`UPDATE gate_sessions`).
			WithArgs(id.String(), 5, now, until).
			WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "locked_until"}).
				AddRow(1, (*time.Time)(nil)))

		failures, locked, err := store.IncrementFailures(ctx, id, 5, now, until)
		require.NoError(t, err)
		assert.Equal(t, 1, failures)
		assert.Nil(t, locked)
	})

	t.Run("absent session maps to ErrNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`UPDATE gate_sessions`).
			WithArgs(id.String(), 5, now, until).
			WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "locked_until"}))

		_, _, err := store.IncrementFailures(ctx, id, 5, now, until)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	t.Run("deletes session", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`DELETE FROM gate_sessions WHERE id`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, store.Delete(ctx, id))
	})

	t.Run("absent session maps to ErrNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`DELETE FROM gate_sessions WHERE id`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := store.Delete(ctx, id)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})
}

func TestStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("returns removed count", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`DELETE FROM gate_sessions WHERE expires_at`).
			WithArgs(now).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))

		removed, err := store.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)
	})

	t.Run("database error maps to SESSION_DELETE_EXPIRED_FAILED", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`DELETE FROM gate_sessions WHERE expires_at`).
			WithArgs(now).
			WillReturnError(errors.New("connection reset"))

		_, err := store.DeleteExpired(ctx, now)
		errutil.AssertErrorCode(t, err, "SESSION_DELETE_EXPIRED_FAILED")
	})
}

func TestStore_Count(t *testing.T) {
	ctx := context.Background()

	t.Run("returns row count", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`SELECT count\(\*\) FROM gate_sessions`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), count)
	})

	t.Run("database error maps to SESSION_COUNT_FAILED", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`SELECT count\(\*\) FROM gate_sessions`).
			WillReturnError(errors.New("connection reset"))

		_, err := store.Count(ctx)
		errutil.AssertErrorCode(t, err, "SESSION_COUNT_FAILED")
	})
}
