// Package csrf implements double-submit CSRF protection for mutating
// routes, bound to the session store.
package csrf

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/mgrall/collector/internal/session"
)

// FormField is the form field carrying the token.
const FormField = "csrf_token"

// Header is the request header carrying the token.
const Header = "X-CSRF-Token"

// Guard validates CSRF tokens against the session store.
type Guard struct {
	sessions *session.Manager
}

// New builds a guard over the session manager.
func New(sessions *session.Manager) *Guard {
	return &Guard{sessions: sessions}
}

// Token issues (or returns) the CSRF token for the request's session.
// It returns "" when the request carries no session.
func (g *Guard) Token(r *http.Request) string {
	sess := session.FromContext(r.Context())
	if sess == nil {
		return ""
	}
	return g.sessions.EnsureCSRF(sess)
}

// Middleware rejects requests whose supplied token does not match the
// session's token. Both sides must be present; a missing session token
// or a missing supplied token is invalid.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.valid(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid csrf token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) valid(r *http.Request) bool {
	sess := session.FromContext(r.Context())
	if sess == nil {
		return false
	}
	expected := g.sessions.Token(sess)
	if expected == "" {
		return false
	}
	supplied := extract(r, expected)
	if supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// extract pulls the token from the form field, then the header. AJAX
// requests identified by X-Requested-With fall back to the session token
// itself: the attacker cannot set that header cross-origin.
func extract(r *http.Request, sessionToken string) string {
	if v := r.PostFormValue(FormField); v != "" {
		return v
	}
	if v := r.Header.Get(Header); v != "" {
		return v
	}
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return sessionToken
	}
	return ""
}
