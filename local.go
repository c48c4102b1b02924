package secretauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// AuthErrorHandler handles a failed login or signup. Returning false falls
// back to the default handling.
type AuthErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool

// LocalAuth registers and verifies username/password credentials
type LocalAuth struct {
	Store    IdentityStore
	Sessions *SessionManager

	// Defaults to DefaultSignupPolicy
	SignupPolicy *SignupPolicy

	// bcrypt cost for new hashes, 0 means bcrypt.DefaultCost. Hashes below
	// this cost are upgraded on the next successful login.
	BcryptCost int

	// Form field names
	UsernameField string
	PasswordField string

	// Where to go after a successful login or signup. Defaults to "/secrets".
	SuccessURL string

	// The originating forms, failures are redirected back to these.
	// Default to "/login" and "/register".
	LoginURL  string
	SignupURL string

	// Form/query parameter carrying a local path to return to after login
	CallbackURLParam string

	OnLoginError  AuthErrorHandler
	OnSignupError AuthErrorHandler

	Logger   *slog.Logger
	Observer Observer

	dummyOnce sync.Once
	dummyHash []byte
}

// ServeHTTP handles login requests
func (a *LocalAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.HandleLogin(w, r)
}

// Register creates a local identity. The plaintext password is only ever
// hashed. Returns an *AuthError for policy violations and
// ErrDuplicateUsername if the username is taken.
func (a *LocalAuth) Register(ctx context.Context, username, password string) (*Identity, error) {
	ctx, span := tracer().Start(ctx, "LocalAuth.Register")
	defer span.End()

	creds := &Credentials{Username: strings.TrimSpace(username), Password: password}
	if authErr := a.policy().Validate(creds); authErr != nil {
		return nil, authErr
	}

	passwordHash, err := HashPassword(creds.Password, a.BcryptCost)
	if err != nil {
		return nil, err
	}

	identity := NewIdentity(creds.Username, "", creds.Username)
	identity.PasswordHash = passwordHash
	if err := a.Store.Insert(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	a.logger().Info("registered local identity", "identity", identity.ID)
	return identity, nil
}

// Verify checks password against the stored hash for username. Every
// rejection matches ErrInvalidCredential; an unknown username additionally
// matches ErrNotFound so callers can log it, but costs the same bcrypt
// comparison as a wrong password.
func (a *LocalAuth) Verify(ctx context.Context, username, password string) (*Identity, error) {
	ctx, span := tracer().Start(ctx, "LocalAuth.Verify")
	defer span.End()

	identity, err := a.Store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		CheckPassword(string(a.getDummyHash()), password)
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}

	if identity.PasswordHash == "" {
		CheckPassword(string(a.getDummyHash()), password)
		return nil, ErrInvalidCredential
	}
	if !CheckPassword(identity.PasswordHash, password) {
		return nil, ErrInvalidCredential
	}

	if needsRehash(identity.PasswordHash, a.BcryptCost) {
		a.rehash(ctx, identity, password)
	}
	return identity, nil
}

// SetLocalCredential adds a username and password to an identity that has
// none, e.g. one created by a federated login. An empty username keeps the
// identity's current one.
func (a *LocalAuth) SetLocalCredential(ctx context.Context, identityID, username, password string) error {
	identity, err := a.Store.FindByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if identity.HasLocalCredential() {
		return ErrAlreadyLinked
	}
	if strings.TrimSpace(username) == "" {
		username = identity.Username
	}

	creds := &Credentials{Username: strings.TrimSpace(username), Password: password}
	if authErr := a.policy().Validate(creds); authErr != nil {
		return authErr
	}
	passwordHash, err := HashPassword(creds.Password, a.BcryptCost)
	if err != nil {
		return err
	}
	if err := a.Store.UpdateLocalCredential(ctx, identityID, creds.Username, passwordHash); err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to save local credential: %w", err)
	}
	a.logger().Info("linked local credential", "identity", identityID)
	return nil
}

// HandleLogin verifies a posted username/password and binds the session.
// All credential failures look the same to the client.
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := a.parseCredentials(r)
	if err != nil {
		a.handleLoginError(NewAuthError(ErrCodeMissingField, err.Error(), "username"), w, r)
		return
	}

	identity, err := a.Verify(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			a.logger().Info("login rejected", "not_found", errors.Is(err, ErrNotFound))
			a.observer().ObserveAuth("local", OutcomeFailure)
			a.handleLoginError(NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "password"), w, r)
			return
		}
		a.logger().Error("login failed", "err", err)
		a.observer().ObserveAuth("local", OutcomeError)
		a.handleLoginError(NewAuthError(ErrCodeInternal, "Login failed, please try again", "").wrap(err), w, r)
		return
	}

	if _, err := a.Sessions.Issue(r.Context(), identity.ID); err != nil {
		a.logger().Error("failed to issue session", "err", err)
		a.observer().ObserveAuth("local", OutcomeError)
		a.handleLoginError(NewAuthError(ErrCodeInternal, "Login failed, please try again", "").wrap(err), w, r)
		return
	}
	a.observer().ObserveAuth("local", OutcomeSuccess)
	a.respondSuccess(identity, w, r)
}

func (a *LocalAuth) rehash(ctx context.Context, identity *Identity, password string) {
	passwordHash, err := HashPassword(password, a.BcryptCost)
	if err == nil {
		err = a.Store.UpdateLocalCredential(ctx, identity.ID, identity.Username, passwordHash)
	}
	if err != nil {
		a.logger().Warn("failed to upgrade password hash", "identity", identity.ID, "err", err)
		return
	}
	identity.PasswordHash = passwordHash
}

func (a *LocalAuth) getDummyHash() []byte {
	a.dummyOnce.Do(func() {
		cost := a.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		a.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	})
	return a.dummyHash
}

func (a *LocalAuth) parseCredentials(r *http.Request) (*Credentials, error) {
	creds := &Credentials{}
	if isJSONRequest(r) {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return nil, fmt.Errorf("invalid post body")
		}
		creds.Username, _ = data[a.getUsernameField()].(string)
		creds.Password, _ = data[a.getPasswordField()].(string)
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("error parsing form")
		}
		creds.Username = r.FormValue(a.getUsernameField())
		creds.Password = r.FormValue(a.getPasswordField())
	}
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("username and password required")
	}
	return creds, nil
}

func (a *LocalAuth) respondSuccess(identity *Identity, w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"identity":     identity.ID,
			"display_name": identity.DisplayName,
		})
		return
	}
	http.Redirect(w, r, SafeRedirectPath(r.FormValue(a.getCallbackURLParam()), a.getSuccessURL()), http.StatusFound)
}

// handleLoginError uses the configured handler or redirects back to the login form
func (a *LocalAuth) handleLoginError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnLoginError != nil && a.OnLoginError(err, w, r) {
		return
	}
	a.respondError(err, a.getLoginURL(), w, r)
}

// handleSignupError uses the configured handler or redirects back to the signup form
func (a *LocalAuth) handleSignupError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnSignupError != nil && a.OnSignupError(err, w, r) {
		return
	}
	a.respondError(err, a.getSignupURL(), w, r)
}

func (a *LocalAuth) respondError(err *AuthError, formURL string, w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		writeJSON(w, statusForCode(err.Code), map[string]any{
			"error": err.Message,
			"code":  err.Code,
			"field": err.Field,
		})
		return
	}
	q := url.Values{}
	q.Set("error", err.Code)
	if cb := SafeRedirectPath(r.FormValue(a.getCallbackURLParam()), ""); cb != "" {
		q.Set(a.getCallbackURLParam(), cb)
	}
	http.Redirect(w, r, formURL+"?"+q.Encode(), http.StatusFound)
}

func statusForCode(code string) int {
	switch code {
	case ErrCodeInvalidCreds:
		return http.StatusUnauthorized
	case ErrCodeUsernameTaken, ErrCodeAlreadyLinked:
		return http.StatusConflict
	case ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func wantsJSON(r *http.Request) bool {
	return isJSONRequest(r) || strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (a *LocalAuth) policy() *SignupPolicy {
	if a.SignupPolicy != nil {
		return a.SignupPolicy
	}
	return &DefaultSignupPolicy
}

func (a *LocalAuth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *LocalAuth) observer() Observer {
	return observerOrNop(a.Observer)
}

func (a *LocalAuth) getUsernameField() string {
	if a.UsernameField != "" {
		return a.UsernameField
	}
	return "username"
}

func (a *LocalAuth) getPasswordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

func (a *LocalAuth) getSuccessURL() string {
	if a.SuccessURL != "" {
		return a.SuccessURL
	}
	return "/secrets"
}

func (a *LocalAuth) getLoginURL() string {
	if a.LoginURL != "" {
		return a.LoginURL
	}
	return "/login"
}

func (a *LocalAuth) getSignupURL() string {
	if a.SignupURL != "" {
		return a.SignupURL
	}
	return "/register"
}

func (a *LocalAuth) getCallbackURLParam() string {
	if a.CallbackURLParam != "" {
		return a.CallbackURLParam
	}
	return "callbackURL"
}
