// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package gate is the HTTP orchestrator of gatehouse.
//
// It composes the credential store, session manager, CSRF guard, and
// throttles into three endpoints (login form, login submit, logout)
// plus a middleware that redirects every other request to the login
// page until the session is authenticated.
//
// Every expected authentication failure ends in a 200 re-render of the
// login form. Credential, CSRF, malformed, and throttle failures share
// one generic banner; locked-out sessions get a "too many attempts"
// message that still reveals nothing else. The only 5xx the gate emits
// is for session-store failures, and those deny access rather than
// defaulting open.
package gate
