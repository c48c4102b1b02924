package secretauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
)

// session key holding the bound identity ID
const sessionIdentityKey = "identityID"

// SessionConfig configures a SessionManager
type SessionConfig struct {
	// Name of the session cookie. Defaults to "session".
	CookieName string

	// Absolute lifetime of a session. Defaults to 24 hours.
	Lifetime time.Duration

	// Idle timeout, 0 disables it
	IdleTimeout time.Duration

	// Secure marks the cookie https-only. Should be true in production.
	Secure bool

	// Store persists session data. Defaults to scs' in-memory store.
	Store scs.Store
}

// SessionManager binds opaque session tokens to identity IDs. Tokens are
// generated by scs from crypto/rand and carry no information about the
// identity; the binding lives only in the session store.
type SessionManager struct {
	scs        *scs.SessionManager
	identities IdentityStore
	Logger     *slog.Logger
	Observer   Observer
}

// NewSessionManager creates a session manager whose bindings resolve against identities
func NewSessionManager(identities IdentityStore, cfg SessionConfig) *SessionManager {
	sm := scs.New()
	if cfg.Store != nil {
		sm.Store = cfg.Store
	}
	sm.Lifetime = 24 * time.Hour
	if cfg.Lifetime > 0 {
		sm.Lifetime = cfg.Lifetime
	}
	sm.IdleTimeout = cfg.IdleTimeout
	sm.Cookie.Name = "session"
	if cfg.CookieName != "" {
		sm.Cookie.Name = cfg.CookieName
	}
	sm.Cookie.HttpOnly = true
	sm.Cookie.Path = "/"
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = cfg.Secure

	out := &SessionManager{scs: sm, identities: identities}
	sm.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		out.logger().Error("session error", "err", err, "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
	return out
}

func (m *SessionManager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// CookieName returns the name of the session cookie
func (m *SessionManager) CookieName() string {
	return m.scs.Cookie.Name
}

// LoadAndSave loads the session for the request and writes the session
// cookie. Every handler that calls Issue, Resolve or Revoke must sit behind it.
func (m *SessionManager) LoadAndSave(next http.Handler) http.Handler {
	return m.scs.LoadAndSave(next)
}

// NewContext returns a context carrying a fresh, unbound session. Used by
// callers outside an HTTP request (CLI, tests).
func (m *SessionManager) NewContext(ctx context.Context) (context.Context, error) {
	return m.scs.Load(ctx, "")
}

// Issue binds the session in ctx to identityID under a newly generated token
// and returns that token. The binding is committed to the store before the
// token is returned so any later ResolveToken sees it bound.
func (m *SessionManager) Issue(ctx context.Context, identityID string) (string, error) {
	if identityID == "" {
		return "", ErrInvalidIdentity
	}
	// A new token on every login so a token planted before login is useless after it
	if err := m.scs.RenewToken(ctx); err != nil {
		return "", fmt.Errorf("failed to renew session token: %w", err)
	}
	m.scs.Put(ctx, sessionIdentityKey, identityID)
	token, _, err := m.scs.Commit(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to commit session: %w", err)
	}
	observerOrNop(m.Observer).ObserveSession(SessionIssued)
	return token, nil
}

// Resolve returns the identity bound to the session in ctx, or nil for an
// anonymous session. An error is only returned when the identity store fails.
func (m *SessionManager) Resolve(ctx context.Context) (*Identity, error) {
	identityID := m.scs.GetString(ctx, sessionIdentityKey)
	if identityID == "" {
		return nil, nil
	}
	identity, err := m.identities.FindByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		m.scs.Remove(ctx, sessionIdentityKey)
		observerOrNop(m.Observer).ObserveSession(SessionStale)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session identity: %w", err)
	}
	return identity, nil
}

// ResolveToken is Resolve for a raw token, e.g. one sent in gRPC metadata.
func (m *SessionManager) ResolveToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}
	b, found, err := m.storeFind(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	deadline, values, err := m.scs.Codec.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if time.Now().After(deadline) {
		return nil, nil
	}
	identityID, _ := values[sessionIdentityKey].(string)
	if identityID == "" {
		return nil, nil
	}
	identity, err := m.identities.FindByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		observerOrNop(m.Observer).ObserveSession(SessionStale)
		if err := m.storeDelete(ctx, token); err != nil {
			m.logger().Warn("failed to delete stale session", "err", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session identity: %w", err)
	}
	return identity, nil
}

// Revoke destroys the session in ctx. The session cookie is expired by
// LoadAndSave. Revoking an anonymous session is not an error.
func (m *SessionManager) Revoke(ctx context.Context) error {
	if err := m.scs.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	observerOrNop(m.Observer).ObserveSession(SessionRevoked)
	return nil
}

// RevokeToken destroys the binding for token. Unknown tokens are ignored.
func (m *SessionManager) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.storeDelete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	observerOrNop(m.Observer).ObserveSession(SessionRevoked)
	return nil
}

func (m *SessionManager) storeFind(ctx context.Context, token string) ([]byte, bool, error) {
	if cs, ok := m.scs.Store.(scs.CtxStore); ok {
		return cs.FindCtx(ctx, token)
	}
	return m.scs.Store.Find(token)
}

func (m *SessionManager) storeDelete(ctx context.Context, token string) error {
	if cs, ok := m.scs.Store.(scs.CtxStore); ok {
		return cs.DeleteCtx(ctx, token)
	}
	return m.scs.Store.Delete(token)
}
