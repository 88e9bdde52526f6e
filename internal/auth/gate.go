// Package auth holds the inbound credential gate and the outbound token broker.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/metrics"
)

const defaultRealm = "swap"

// NormalizeSecret removes every whitespace character, so secrets pasted with
// stray newlines or spaces still match.
func NormalizeSecret(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Decision is the outcome of checking one request.
type Decision struct {
	Authorized bool
	// Challenge is the WWW-Authenticate value to send when not authorized.
	Challenge string
}

// Gate validates inbound basic credentials against one configured pair.
type Gate struct {
	user   []byte
	secret []byte
	realm  string
}

// GateOption applies a configuration option to the Gate.
type GateOption func(*Gate)

// WithRealm sets the realm named in the challenge.
func WithRealm(realm string) GateOption {
	return func(g *Gate) {
		if realm = strings.TrimSpace(realm); realm != "" {
			g.realm = realm
		}
	}
}

// NewGate creates a gate accepting expected. The secret is normalized once here.
func NewGate(expected model.Credential, opts ...GateOption) *Gate {
	g := &Gate{
		user:   []byte(expected.Username),
		secret: []byte(NormalizeSecret(expected.Secret)),
		realm:  defaultRealm,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate reports whether the provided pair matches the configured one.
func (g *Gate) Authenticate(user, secret string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), g.user) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(NormalizeSecret(secret)), g.secret) == 1
	return userOK && secretOK && len(g.secret) > 0
}

// Guard checks the request's basic credentials.
func (g *Gate) Guard(r *http.Request) Decision {
	user, secret, ok := r.BasicAuth()
	if ok && g.Authenticate(user, secret) {
		return Decision{Authorized: true}
	}
	return Decision{Challenge: fmt.Sprintf("Basic realm=%q", g.realm)}
}

// Require wraps next so that it only runs for authorized requests. Other
// requests get a 401 with the challenge header and no retry.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Guard(r)
		if !d.Authorized {
			metrics.RecordErrorByComponent("auth", "unauthorized")
			w.Header().Set("WWW-Authenticate", d.Challenge)
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
