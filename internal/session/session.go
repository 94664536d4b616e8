// Package session provides cookie-based in-memory sessions for the HTTP
// surface. Sessions exist to anchor CSRF tokens; nothing else is stored.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

// CookieName is the session cookie issued to browsers.
const CookieName = "collector_session"

type contextKey struct{}

// Session is one browser session.
type Session struct {
	ID        string
	CSRFToken string
	CreatedAt time.Time
}

// Manager issues and looks up sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	secure   bool
}

// NewManager returns an empty session manager. secure controls the
// cookie's Secure attribute.
func NewManager(secure bool) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		secure:   secure,
	}
}

// Middleware attaches the request's session to the context, creating one
// (and setting the cookie) when none exists.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.lookup(r)
		if sess == nil {
			sess = m.create()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := context.WithValue(r.Context(), contextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request's session, or nil outside the middleware.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(contextKey{}).(*Session)
	return sess
}

func (m *Manager) lookup(r *http.Request) *Session {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[cookie.Value]
}

// EnsureCSRF returns the session's CSRF token, generating it on first use.
func (m *Manager) EnsureCSRF(sess *Session) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.CSRFToken == "" {
		sess.CSRFToken = randomToken()
	}
	return sess.CSRFToken
}

// Token returns the session's CSRF token, which may be empty.
func (m *Manager) Token(sess *Session) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sess.CSRFToken
}

func (m *Manager) create() *Session {
	sess := &Session{
		ID:        randomToken(),
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess
}

func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
