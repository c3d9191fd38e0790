// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package gate

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// compiledExclusion holds an exclusion pattern and its compiled glob.
type compiledExclusion struct {
	pattern string
	glob    glob.Glob
}

// PathMatcher decides which request paths bypass authentication
// entirely, for things like health probes or static assets the login
// page itself needs. Patterns are globs with '/' as the separator, so
// "/static/*" matches one path segment and "/static/**" matches any
// depth.
type PathMatcher struct {
	exclusions []compiledExclusion
}

// NewPathMatcher compiles the given exclusion patterns. An invalid
// pattern fails construction rather than silently matching nothing.
func NewPathMatcher(patterns []string) (*PathMatcher, error) {
	exclusions := make([]compiledExclusion, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, oops.
				Code("GATE_BAD_PATTERN").
				With("pattern", p).
				Wrapf(err, "compiling exclusion pattern")
		}
		exclusions = append(exclusions, compiledExclusion{pattern: p, glob: g})
	}
	return &PathMatcher{exclusions: exclusions}, nil
}

// Excluded reports whether the given request path bypasses the gate.
func (m *PathMatcher) Excluded(path string) bool {
	for _, e := range m.exclusions {
		if e.glob.Match(path) {
			return true
		}
	}
	return false
}
