// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth provides credential verification for the gate.
//
// The gate fronts exactly one configured identity. Verification is
// designed to fail closed and to avoid timing side-channels:
//   - usernames and password hashes are compared in constant time
//   - a dummy argon2id hash is verified when the username does not
//     match, so response time does not reveal which field was wrong
//   - empty or malformed input is a verification failure, never an error
//
// The lockout policy in ratelimit.go is pure: it computes lockout
// state from a failure count and wall-clock timestamps, leaving
// persistence to the session layer.
package auth
