// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"crypto/subtle"

	"github.com/samber/oops"
)

// Identity is the configured account the gate protects access for.
// The password is held only as a PHC-encoded argon2id hash; plaintext
// is never stored or logged.
type Identity struct {
	Username     string
	PasswordHash string
}

// CredentialStore verifies submitted credential pairs.
//
// Verify returns true only when both username and password match a
// configured identity. Malformed input (empty username or password)
// is a mismatch, not an error; errors are reserved for broken
// configuration such as an unparseable stored hash.
type CredentialStore interface {
	Verify(ctx context.Context, username, password string) (bool, error)
}

// dummyPasswordHash is verified when the submitted username does not
// match, keeping response time independent of which field was wrong.
// It is a fake hash that can never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// StaticStore is a CredentialStore over the single identity configured
// at startup. The CredentialStore interface keeps AuthGate independent
// of where identities come from, so a multi-identity backend can be
// substituted without touching gate logic.
type StaticStore struct {
	identity Identity
	hasher   PasswordHasher
}

// NewStaticStore creates a StaticStore for the given identity.
func NewStaticStore(identity Identity, hasher PasswordHasher) (*StaticStore, error) {
	if identity.Username == "" {
		return nil, oops.Code("AUTH_NO_IDENTITY").Errorf("identity username cannot be empty")
	}
	if identity.PasswordHash == "" {
		return nil, oops.Code("AUTH_NO_IDENTITY").Errorf("identity password hash cannot be empty")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_NO_HASHER").Errorf("password hasher is required")
	}
	return &StaticStore{identity: identity, hasher: hasher}, nil
}

// Verify checks the submitted pair against the configured identity.
// The password hash is always verified, against a dummy hash when the
// username does not match, so timing does not distinguish an unknown
// username from a wrong password. Empty input fails closed.
func (s *StaticStore) Verify(ctx context.Context, username, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("AUTH_VERIFY_CANCELED").Wrap(err)
	}
	if username == "" || password == "" {
		return false, nil
	}

	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.identity.Username)) == 1

	targetHash := s.identity.PasswordHash
	if !usernameMatch {
		targetHash = dummyPasswordHash
	}

	passwordMatch, err := s.hasher.Verify(password, targetHash)
	if err != nil {
		if !usernameMatch {
			// Dummy-hash verification errors carry no signal.
			return false, nil
		}
		// The hasher's own code (AUTH_INVALID_HASH) stays the surfaced
		// one; re-coding here would be shadowed anyway.
		return false, oops.With("operation", "verify password").Wrap(err)
	}

	return usernameMatch && passwordMatch, nil
}
