// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func newStaticStore(t *testing.T, username, password string) *auth.StaticStore {
	t.Helper()
	hasher := auth.NewArgon2idHasher()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)

	store, err := auth.NewStaticStore(auth.Identity{
		Username:     username,
		PasswordHash: hash,
	}, hasher)
	require.NoError(t, err)
	return store
}

func TestNewStaticStore(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("empty username is rejected", func(t *testing.T) {
		_, err := auth.NewStaticStore(auth.Identity{PasswordHash: "$argon2id$..."}, hasher)
		errutil.AssertErrorCode(t, err, "AUTH_NO_IDENTITY")
	})

	t.Run("empty hash is rejected", func(t *testing.T) {
		_, err := auth.NewStaticStore(auth.Identity{Username: "admin"}, hasher)
		errutil.AssertErrorCode(t, err, "AUTH_NO_IDENTITY")
	})

	t.Run("nil hasher is rejected", func(t *testing.T) {
		_, err := auth.NewStaticStore(auth.Identity{Username: "admin", PasswordHash: "$argon2id$..."}, nil)
		errutil.AssertErrorCode(t, err, "AUTH_NO_HASHER")
	})
}

func TestStaticStore_Verify(t *testing.T) {
	ctx := context.Background()
	store := newStaticStore(t, "admin", "letmein")

	t.Run("correct pair verifies", func(t *testing.T) {
		ok, err := store.Verify(ctx, "admin", "letmein")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password fails", func(t *testing.T) {
		ok, err := store.Verify(ctx, "admin", "letmeout")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown username fails without error", func(t *testing.T) {
		ok, err := store.Verify(ctx, "root", "letmein")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("username is case-sensitive", func(t *testing.T) {
		ok, err := store.Verify(ctx, "Admin", "letmein")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no partial matches", func(t *testing.T) {
		ok, err := store.Verify(ctx, "admi", "letmein")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.Verify(ctx, "admin", "letmei")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty input fails closed", func(t *testing.T) {
		ok, err := store.Verify(ctx, "", "letmein")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.Verify(ctx, "admin", "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unparseable stored hash is an error for the real user", func(t *testing.T) {
		broken, err := auth.NewStaticStore(auth.Identity{
			Username:     "admin",
			PasswordHash: "$argon2id$garbage",
		}, auth.NewArgon2idHasher())
		require.NoError(t, err)

		_, err = broken.Verify(ctx, "admin", "letmein")
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
	})

	t.Run("canceled context is an error", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.Verify(canceled, "admin", "letmein")
		errutil.AssertErrorCode(t, err, "AUTH_VERIFY_CANCELED")
	})
}
