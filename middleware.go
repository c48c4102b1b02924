package secretauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying identity
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity placed in ctx by the Middleware
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}

// Middleware is the single gate every protected route goes through.
type Middleware struct {
	Sessions *SessionManager

	// Where anonymous GETs are sent. Defaults to "/login".
	LoginURL string

	// Query parameter carrying the original path on the login redirect.
	// Defaults to "callbackURL".
	CallbackURLParam string

	// Where HandleLogout sends the user. Defaults to "/".
	HomeURL string

	Logger *slog.Logger
}

// EnsureReasonableDefaults fills unset fields
func (a *Middleware) EnsureReasonableDefaults() {
	if a.LoginURL == "" {
		a.LoginURL = "/login"
	}
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "callbackURL"
	}
	if a.HomeURL == "" {
		a.HomeURL = "/"
	}
}

func (a *Middleware) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Authenticate resolves the request's session. It returns ErrUnauthenticated
// for anonymous sessions and a wrapped store error if the lookup failed.
func (a *Middleware) Authenticate(r *http.Request) (*Identity, error) {
	if identity, ok := IdentityFromContext(r.Context()); ok {
		return identity, nil
	}
	identity, err := a.Sessions.Resolve(r.Context())
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, ErrUnauthenticated
	}
	return identity, nil
}

// RequireAuth admits only requests whose session is bound to an existing
// identity. Anonymous GET/HEAD requests are redirected to the login page;
// anonymous requests for any other method are identity scoped actions and get
// a 401. Store failures deny access.
func (a *Middleware) RequireAuth(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		case errors.Is(err, ErrUnauthenticated):
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				http.Redirect(w, r, a.loginRedirectURL(r), http.StatusFound)
				return
			}
			http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		default:
			a.logger().Error("session lookup failed, denying access", "err", err, "path", r.URL.Path)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})
}

// ExtractUser loads the identity (if any) into the request context without
// enforcing that one exists.
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		if err == nil {
			r = r.WithContext(WithIdentity(r.Context(), identity))
		} else if !errors.Is(err, ErrUnauthenticated) {
			a.logger().Warn("session lookup failed, continuing anonymous", "err", err, "path", r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

// HandleLogout revokes the session and redirects home, or to the local path
// given in ?to=.
func (a *Middleware) HandleLogout(w http.ResponseWriter, r *http.Request) {
	a.EnsureReasonableDefaults()
	if err := a.Sessions.Revoke(r.Context()); err != nil {
		a.logger().Error("unable to log out", "err", err)
	}
	http.Redirect(w, r, SafeRedirectPath(r.URL.Query().Get("to"), a.HomeURL), http.StatusFound)
}

func (a *Middleware) loginRedirectURL(r *http.Request) string {
	originalURL := r.URL.Path
	if r.URL.RawQuery != "" {
		originalURL += "?" + r.URL.RawQuery
	}
	encodedURL := strings.Replace(url.QueryEscape(originalURL), "+", "%20", -1)
	return fmt.Sprintf("%s?%s=%s", a.LoginURL, a.CallbackURLParam, encodedURL)
}
