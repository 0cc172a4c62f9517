// Package auth validates the shared-secret tokens clients present in their
// config handshake.
package auth

import "crypto/subtle"

// Manager holds the immutable set of accepted tokens. Authentication is
// enabled iff at least one non-empty token was supplied.
type Manager struct {
	tokens [][]byte
}

// New returns a Manager accepting the given tokens. Empty tokens are ignored.
func New(tokens ...string) *Manager {
	m := &Manager{}
	for _, token := range tokens {
		if token == "" {
			continue
		}
		m.tokens = append(m.tokens, []byte(token))
	}
	return m
}

// Enabled reports whether clients must present a token.
func (m *Manager) Enabled() bool {
	return m != nil && len(m.tokens) > 0
}

// Validate reports whether candidate matches one of the accepted tokens. It
// always succeeds when authentication is disabled.
//
// Every accepted token is compared so the running time does not reveal which
// token, if any, matched.
func (m *Manager) Validate(candidate string) bool {
	if !m.Enabled() {
		return true
	}
	given := []byte(candidate)
	matched := 0
	for _, token := range m.tokens {
		// ConstantTimeCompare returns 0 immediately on a length mismatch; the
		// lengths of accepted tokens are not treated as secret.
		matched |= subtle.ConstantTimeCompare(token, given)
	}
	return matched == 1
}
