// Package web is the secrets application: public pages, the protected
// submit form and the /auth routes, all behind one session gate.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/internal/metrics"
)

// DefaultMaxSecretLength caps a submitted secret, in characters
const DefaultMaxSecretLength = 1000

const (
	errCodeEmptySecret   = "empty_secret"
	errCodeSecretTooLong = "secret_too_long"
)

// Server serves the application pages around a SecretAuth
type Server struct {
	Auth    *sa.SecretAuth
	Metrics *metrics.Collector
	Logger  *slog.Logger

	MaxSecretLength int

	pages pages
}

// NewServer parses the page templates. metrics may be nil.
func NewServer(auth *sa.SecretAuth, collector *metrics.Collector, logger *slog.Logger) (*Server, error) {
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	s := &Server{
		Auth:            auth,
		Metrics:         collector,
		Logger:          logger,
		MaxSecretLength: DefaultMaxSecretLength,
		pages:           p,
	}
	if collector != nil {
		auth.SetObserver(collector)
	}
	if logger != nil {
		auth.SetLogger(logger)
	}
	return s, nil
}

// Handler returns the full application. Sessions are loaded once here for
// every route, including /auth.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)

	gate := &s.Auth.Middleware

	r.Handle("/", gate.ExtractUser(http.HandlerFunc(s.handleHome))).Methods(http.MethodGet)
	r.Handle("/login", gate.ExtractUser(s.formPage("login"))).Methods(http.MethodGet)
	r.Handle("/register", gate.ExtractUser(s.formPage("register"))).Methods(http.MethodGet)
	r.HandleFunc("/login", s.Auth.Local.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", s.Auth.Local.HandleSignup).Methods(http.MethodPost)
	r.Handle("/secrets", gate.ExtractUser(http.HandlerFunc(s.handleSecrets))).Methods(http.MethodGet)
	r.Handle("/submit", gate.RequireAuth(http.HandlerFunc(s.handleSubmitForm))).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/submit", gate.RequireAuth(http.HandlerFunc(s.handleSubmit))).Methods(http.MethodPost)
	r.HandleFunc("/logout", gate.HandleLogout).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.PathPrefix("/auth/").Handler(http.StripPrefix("/auth", s.Auth.Handler()))
	r.Handle("/auth", http.RedirectHandler("/login", http.StatusFound))

	var h http.Handler = s.Auth.Sessions.LoadAndSave(r)
	if s.Metrics != nil {
		h = s.Metrics.Middleware(h)
	}
	return h
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "home", nil)
}

// formPage renders the login or register form with the providers and the
// validated return path
func (s *Server) formPage(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, name, &pageData{
			CallbackURL: sa.SafeRedirectPath(r.URL.Query().Get("callbackURL"), ""),
			Providers:   s.Auth.Providers(),
		})
	})
}

// handleSecrets lists every submitted secret without saying whose it is
func (s *Server) handleSecrets(w http.ResponseWriter, r *http.Request) {
	identities, err := s.Auth.Store.ListWithSecrets(r.Context())
	if err != nil {
		s.logger().Error("unable to find users with secrets", "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	secrets := make([]string, 0, len(identities))
	for _, identity := range identities {
		secrets = append(secrets, identity.SecretText())
	}
	s.render(w, r, "secrets", &pageData{Secrets: secrets})
}

func (s *Server) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	identity, _ := sa.IdentityFromContext(r.Context())
	s.render(w, r, "submit", &pageData{
		Current:         identity.SecretText(),
		MaxSecretLength: s.maxSecretLength(),
	})
}

// handleSubmit stores the caller's secret. Only the identity resolved from the
// session is ever written to.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	identity, ok := sa.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	secret := strings.TrimSpace(r.FormValue("secret"))
	switch {
	case secret == "":
		http.Redirect(w, r, "/submit?error="+errCodeEmptySecret, http.StatusFound)
		return
	case utf8.RuneCountInString(secret) > s.maxSecretLength():
		http.Redirect(w, r, "/submit?error="+errCodeSecretTooLong, http.StatusFound)
		return
	}

	if err := s.Auth.Store.UpdateSecret(r.Context(), identity.ID, secret); err != nil {
		if errors.Is(err, sa.ErrNotFound) {
			// the identity vanished between the gate and the write
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		s.logger().Error("unable to save secret", "identity", identity.ID, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.logger().Info("secret submitted", "identity", identity.ID, "request_id", chimw.GetReqID(r.Context()))
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (s *Server) maxSecretLength() int {
	if s.MaxSecretLength > 0 {
		return s.MaxSecretLength
	}
	return DefaultMaxSecretLength
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
