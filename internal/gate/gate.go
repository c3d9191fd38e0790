// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package gate

import (
	_ "embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/session"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

//go:embed login.html
var loginPageHTML string

var loginTemplate = template.Must(template.New("login").Parse(loginPageHTML))

const (
	loginPath  = "/login"
	logoutPath = "/logout"

	// genericBanner is the failure message for credential, CSRF,
	// malformed, and throttle failures. Indistinguishable to the
	// client: it never reveals which check failed.
	genericBanner = "Invalid username or password."

	// lockedBanner is shown on attempts against a locked session,
	// including the one that triggers the lockout. Still generic: it
	// names neither the attempt count nor the remaining cooldown.
	lockedBanner = "Too many attempts. Try again later."

	// DefaultCookieName is the session cookie name when none is
	// configured.
	DefaultCookieName = "gatehouse_session"
)

// Login outcomes reported to the metrics recorder.
const (
	OutcomeSuccess     = "success"
	OutcomeBadCreds    = "invalid_credentials"
	OutcomeCSRF        = "csrf_mismatch"
	OutcomeLocked      = "locked_out"
	OutcomeThrottled   = "throttled"
	OutcomeMalformed   = "malformed"
	OutcomeStoreFailed = "store_error"
)

// Recorder receives login outcome events. It is satisfied by
// observability.Metrics; a nil Recorder disables recording.
type Recorder interface {
	ObserveLogin(outcome string)
	ObserveLockout()
}

// Options configures a Gate.
type Options struct {
	// Credentials verifies submitted username/password pairs.
	Credentials auth.CredentialStore

	// Sessions resolves, rotates, and invalidates sessions.
	Sessions *session.Manager

	// Upstream receives requests that pass authentication. Typically
	// a reverse proxy to the protected application.
	Upstream http.Handler

	// Throttle, if non-nil, rate-limits login submissions per client
	// address before credentials are checked.
	Throttle *IPThrottle

	// ExcludedPaths are glob patterns for paths that bypass the gate.
	ExcludedPaths []string

	// CookieName, CookiePath, and CookieSecure shape the session
	// cookie. CookieName defaults to DefaultCookieName, CookiePath
	// to "/".
	CookieName   string
	CookiePath   string
	CookieSecure bool

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics receives login outcomes; nil disables recording.
	Metrics Recorder
}

// Gate fronts an upstream handler with cookie-session authentication.
type Gate struct {
	creds    auth.CredentialStore
	sessions *session.Manager
	upstream http.Handler
	throttle *IPThrottle
	matcher  *PathMatcher
	csrf     CsrfGuard
	metrics  Recorder

	cookieName   string
	cookiePath   string
	cookieSecure bool

	logger *slog.Logger
}

// New validates the options and builds a Gate.
func New(opts Options) (*Gate, error) {
	if opts.Credentials == nil {
		return nil, oops.Code("GATE_NO_CREDENTIALS").Errorf("credential store is required")
	}
	if opts.Sessions == nil {
		return nil, oops.Code("GATE_NO_SESSIONS").Errorf("session manager is required")
	}
	if opts.Upstream == nil {
		return nil, oops.Code("GATE_NO_UPSTREAM").Errorf("upstream handler is required")
	}

	matcher, err := NewPathMatcher(opts.ExcludedPaths)
	if err != nil {
		return nil, err
	}

	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	cookiePath := opts.CookiePath
	if cookiePath == "" {
		cookiePath = "/"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		creds:        opts.Credentials,
		sessions:     opts.Sessions,
		upstream:     opts.Upstream,
		throttle:     opts.Throttle,
		matcher:      matcher,
		metrics:      opts.Metrics,
		cookieName:   cookieName,
		cookiePath:   cookiePath,
		cookieSecure: opts.CookieSecure,
		logger:       logger,
	}, nil
}

// Handler returns the gate's full request router: the login and logout
// endpoints plus the protected upstream behind the auth middleware.
func (g *Gate) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+loginPath, g.handleLoginGet)
	mux.HandleFunc("POST "+loginPath, g.handleLoginPost)
	mux.HandleFunc("GET "+logoutPath, g.handleLogout)
	mux.Handle("/", g.Protect(g.upstream))
	return mux
}

// Protect wraps next so that only authenticated sessions reach it.
// Excluded paths pass through untouched. Anything else without a live
// authenticated session is redirected to the login page.
func (g *Gate) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.matcher.Excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		s, err := g.sessions.Validate(r.Context(), g.cookieToken(r))
		if err != nil {
			if errors.Is(err, session.ErrStoreUnavailable) {
				g.storeFailure(w, r, err)
				return
			}
			// Expired or unknown session: treat as unauthenticated.
			s = nil
		}
		if s == nil || !s.Authenticated {
			g.redirect(w, r, loginPath)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Gate) handleLoginGet(w http.ResponseWriter, r *http.Request) {
	s, newToken, err := g.sessions.GetOrCreate(r.Context(), g.cookieToken(r))
	if err != nil {
		g.storeFailure(w, r, err)
		return
	}
	if newToken != "" {
		g.setSessionCookie(w, newToken)
	}

	if s.Authenticated {
		g.redirect(w, r, "/")
		return
	}

	g.renderLogin(w, http.StatusOK, "", g.csrf.TokenFor(s))
}

func (g *Gate) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, newToken, err := g.sessions.GetOrCreate(ctx, g.cookieToken(r))
	if err != nil {
		g.storeFailure(w, r, err)
		return
	}
	if newToken != "" {
		g.setSessionCookie(w, newToken)
	}

	if s.Authenticated {
		g.redirect(w, r, "/")
		return
	}

	// Locked sessions are turned away before the body is even parsed,
	// so repeated submissions cannot extend the lockout.
	if locked, remaining := g.sessions.IsLocked(s); locked {
		g.observe(OutcomeLocked)
		g.logger.InfoContext(ctx, "login rejected: session locked",
			slog.String("session_id", s.ID.String()),
			slog.Duration("remaining", remaining))
		g.renderLogin(w, http.StatusOK, lockedBanner, g.csrf.TokenFor(s))
		return
	}

	if g.throttle != nil && !g.throttle.Allow(clientAddr(r)) {
		g.observe(OutcomeThrottled)
		g.logger.InfoContext(ctx, "login rejected: client throttled",
			slog.String("client", clientAddr(r)))
		g.renderLogin(w, http.StatusOK, genericBanner, g.csrf.TokenFor(s))
		return
	}

	if err := r.ParseForm(); err != nil {
		g.fail(w, r, s, OutcomeMalformed)
		return
	}

	if !g.csrf.Validate(s, r) {
		g.fail(w, r, s, OutcomeCSRF)
		return
	}

	ok, err := g.creds.Verify(ctx, r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		g.storeFailure(w, r, err)
		return
	}
	if !ok {
		g.fail(w, r, s, OutcomeBadCreds)
		return
	}

	rotated, token, err := g.sessions.MarkAuthenticated(ctx, s)
	if err != nil {
		g.storeFailure(w, r, err)
		return
	}
	g.setSessionCookie(w, token)
	g.observe(OutcomeSuccess)
	g.logger.InfoContext(ctx, "login succeeded",
		slog.String("session_id", rotated.ID.String()))

	g.redirect(w, r, "/")
}

func (g *Gate) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := g.sessions.Validate(ctx, g.cookieToken(r))
	if err != nil && errors.Is(err, session.ErrStoreUnavailable) {
		g.storeFailure(w, r, err)
		return
	}
	if s != nil {
		if err := g.sessions.Invalidate(ctx, s); err != nil {
			g.storeFailure(w, r, err)
			return
		}
		g.logger.InfoContext(ctx, "session invalidated",
			slog.String("session_id", s.ID.String()))
	}

	g.clearSessionCookie(w)
	g.redirect(w, r, loginPath)
}

// fail records one failed attempt against the session and re-renders
// the form. The attempt that crosses the lockout threshold switches
// the banner to the lockout message; every other failure shows the
// generic one.
func (g *Gate) fail(w http.ResponseWriter, r *http.Request, s *session.Session, outcome string) {
	g.observe(outcome)

	lockedNow, err := g.sessions.RecordFailure(r.Context(), s)
	if err != nil {
		g.storeFailure(w, r, err)
		return
	}

	banner := genericBanner
	if lockedNow {
		banner = lockedBanner
		if g.metrics != nil {
			g.metrics.ObserveLockout()
		}
		g.logger.WarnContext(r.Context(), "session locked out",
			slog.String("session_id", s.ID.String()),
			slog.String("outcome", outcome))
	} else {
		g.logger.InfoContext(r.Context(), "login failed",
			slog.String("session_id", s.ID.String()),
			slog.String("outcome", outcome))
	}

	g.renderLogin(w, http.StatusOK, banner, g.csrf.TokenFor(s))
}

func (g *Gate) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	g.observe(OutcomeStoreFailed)
	errutil.LogError(g.logger, "request failed", err)
	http.Error(w, "service unavailable", http.StatusInternalServerError)
}

func (g *Gate) observe(outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveLogin(outcome)
	}
}

func (g *Gate) redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func (g *Gate) renderLogin(w http.ResponseWriter, status int, banner, csrfToken string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	data := struct {
		Action    string
		Banner    string
		CSRFToken string
	}{
		Action:    loginPath,
		Banner:    banner,
		CSRFToken: csrfToken,
	}
	if err := loginTemplate.Execute(w, data); err != nil {
		errutil.LogError(g.logger, "rendering login page", err)
	}
}

func (g *Gate) cookieToken(r *http.Request) string {
	c, err := r.Cookie(g.cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (g *Gate) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     g.cookiePath,
		HttpOnly: true,
		Secure:   g.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (g *Gate) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     g.cookiePath,
		HttpOnly: true,
		Secure:   g.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
