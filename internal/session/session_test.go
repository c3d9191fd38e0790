// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/session"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates secure token and hash", func(t *testing.T) {
		token, hash, err := session.GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64) // 32 bytes hex-encoded
		assert.Len(t, hash, 64)  // SHA-256 hex-encoded
		assert.NotEqual(t, token, hash)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, _, err := session.GenerateToken()
		require.NoError(t, err)
		token2, _, err := session.GenerateToken()
		require.NoError(t, err)
		assert.NotEqual(t, token1, token2)
	})

	t.Run("hash is deterministic for a token", func(t *testing.T) {
		token, hash, err := session.GenerateToken()
		require.NoError(t, err)
		assert.Equal(t, hash, session.HashToken(token))
	})
}

func TestCSRFTokenMatches(t *testing.T) {
	token, err := session.GenerateCSRFToken()
	require.NoError(t, err)

	t.Run("matching token", func(t *testing.T) {
		assert.True(t, session.CSRFTokenMatches(token, token))
	})

	t.Run("different token", func(t *testing.T) {
		other, err := session.GenerateCSRFToken()
		require.NoError(t, err)
		assert.False(t, session.CSRFTokenMatches(other, token))
	})

	t.Run("empty submitted token never matches", func(t *testing.T) {
		assert.False(t, session.CSRFTokenMatches("", token))
		assert.False(t, session.CSRFTokenMatches("", ""))
	})

	t.Run("truncated token does not match", func(t *testing.T) {
		assert.False(t, session.CSRFTokenMatches(token[:len(token)-1], token))
	})
}

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("creates unauthenticated session with expiry", func(t *testing.T) {
		s, err := session.New("somehash", "sometoken", now, 30*time.Minute)
		require.NoError(t, err)
		assert.False(t, s.Authenticated)
		assert.Zero(t, s.FailedAttempts)
		assert.Nil(t, s.LockedUntil)
		assert.Equal(t, now.Add(30*time.Minute), s.ExpiresAt)
		assert.NotZero(t, s.ID)
	})

	t.Run("empty token hash is rejected", func(t *testing.T) {
		_, err := session.New("", "sometoken", now, 30*time.Minute)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_HASH")
	})

	t.Run("empty CSRF token is rejected", func(t *testing.T) {
		_, err := session.New("somehash", "", now, 30*time.Minute)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_CSRF")
	})

	t.Run("non-positive idle timeout is rejected", func(t *testing.T) {
		_, err := session.New("somehash", "sometoken", now, 0)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_EXPIRY")
	})
}

func TestSession_IsExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := session.New("somehash", "sometoken", now, time.Minute)
	require.NoError(t, err)

	assert.False(t, s.IsExpiredAt(now))
	assert.False(t, s.IsExpiredAt(now.Add(time.Minute))) // boundary is inclusive
	assert.True(t, s.IsExpiredAt(now.Add(time.Minute+time.Second)))
}
