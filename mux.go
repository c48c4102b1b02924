package secretauth

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/panyam/secretauth/oauth2"
)

// SecretAuth wires the local verifier, federated resolver, session manager
// and façade together over one identity store. Mount Handler() under /auth.
type SecretAuth struct {
	mux       *http.ServeMux
	providers []string

	Store      IdentityStore
	Sessions   *SessionManager
	Local      *LocalAuth
	Federated  *FederatedResolver
	Middleware Middleware

	Logger *slog.Logger
}

// New creates a SecretAuth with default handlers. Fields may be adjusted
// before the first call to Handler.
func New(store IdentityStore, sessions *SessionManager) *SecretAuth {
	a := &SecretAuth{
		Store:    store,
		Sessions: sessions,
		Local: &LocalAuth{
			Store:    store,
			Sessions: sessions,
		},
		Federated: &FederatedResolver{
			Store:    store,
			Sessions: sessions,
		},
		Middleware: Middleware{Sessions: sessions},
	}
	a.Middleware.EnsureReasonableDefaults()
	return a
}

// SetLogger sets the logger on every component
func (a *SecretAuth) SetLogger(logger *slog.Logger) *SecretAuth {
	a.Logger = logger
	a.Sessions.Logger = logger
	a.Local.Logger = logger
	a.Federated.Logger = logger
	a.Middleware.Logger = logger
	return a
}

// SetObserver sets the observer on every component
func (a *SecretAuth) SetObserver(o Observer) *SecretAuth {
	a.Sessions.Observer = o
	a.Local.Observer = o
	a.Federated.Observer = o
	return a
}

// Handler returns the /auth routes:
//
//	POST /login, POST /signup, POST /link-credentials (authenticated),
//	GET /logout and /<provider>/... for every added provider.
func (a *SecretAuth) Handler() http.Handler {
	return a.setupRoutes().mux
}

// AddProvider mounts an OAuth2 provider at /<name>/ and routes its outcome
// through the federated resolver.
func (a *SecretAuth) AddProvider(p *oauth2.Provider) *SecretAuth {
	if p.OnSuccess == nil {
		p.OnSuccess = a.Federated.HandleProfile
	}
	if p.OnFailure == nil {
		p.OnFailure = a.Federated.HandleFailure
	}
	if p.Logger == nil {
		p.Logger = a.Logger
	}
	a.providers = append(a.providers, p.Name)
	return a.AddAuth("/"+p.Name, p)
}

// Providers returns the names of the added providers
func (a *SecretAuth) Providers() []string {
	return slices.Clone(a.providers)
}

// AddAuth mounts handler for the subtree at prefix
func (a *SecretAuth) AddAuth(prefix string, handler http.Handler) *SecretAuth {
	a.setupRoutes()
	prefix = strings.TrimSuffix(prefix, "/")
	a.mux.Handle(prefix+"/", http.StripPrefix(prefix, handler))

	// /auth/google -> /auth/google/. RequestURI keeps any prefix stripped
	// by a parent mux.
	a.mux.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		origPath := r.RequestURI
		if idx := strings.Index(origPath, "?"); idx != -1 {
			origPath = origPath[:idx]
		}
		target := origPath + "/"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})
	return a
}

func (a *SecretAuth) setupRoutes() *SecretAuth {
	if a.mux == nil {
		a.mux = http.NewServeMux()
		a.mux.HandleFunc("POST /login", a.Local.HandleLogin)
		a.mux.HandleFunc("POST /signup", a.Local.HandleSignup)
		a.mux.Handle("POST /link-credentials", a.Middleware.RequireAuth(http.HandlerFunc(a.Local.HandleLinkCredentials)))
		a.mux.HandleFunc("GET /logout", a.Middleware.HandleLogout)
	}
	return a
}
