// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package gate

import (
	"net/http"

	"github.com/gatehouse/gatehouse/internal/session"
)

// csrfFieldName is the hidden form field carrying the CSRF token.
const csrfFieldName = "csrf_token"

// CsrfGuard validates that a login submission carries the CSRF token
// bound to the submitting session. The token lives in the rendered
// form, not in a cookie, so a cross-site POST cannot supply it.
type CsrfGuard struct{}

// TokenFor returns the token to embed in the login form for the given
// session.
func (CsrfGuard) TokenFor(s *session.Session) string {
	return s.CSRFToken
}

// Validate reports whether the submitted form carries the session's
// token. The request form must already be parsed. Missing and empty
// tokens fail; comparison is constant-time.
func (CsrfGuard) Validate(s *session.Session, r *http.Request) bool {
	return session.CSRFTokenMatches(r.PostFormValue(csrfFieldName), s.CSRFToken)
}
