package secretauth

import (
	"errors"
	"net/http"
)

// HandleSignup processes user registration. A successful registration logs the
// new user in.
func (a *LocalAuth) HandleSignup(w http.ResponseWriter, r *http.Request) {
	creds, err := a.parseCredentials(r)
	if err != nil {
		a.handleSignupError(NewAuthError(ErrCodeMissingField, err.Error(), "username"), w, r)
		return
	}

	identity, err := a.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		a.handleSignupError(a.signupAuthError("signup", err), w, r)
		return
	}

	if _, err := a.Sessions.Issue(r.Context(), identity.ID); err != nil {
		a.logger().Error("failed to issue session after signup", "identity", identity.ID, "err", err)
		a.observer().ObserveAuth("signup", OutcomeError)
		a.handleSignupError(NewAuthError(ErrCodeInternal, "Signup succeeded but login failed, please log in", "").wrap(err), w, r)
		return
	}
	a.observer().ObserveAuth("signup", OutcomeSuccess)
	a.respondSuccess(identity, w, r)
}

// HandleLinkCredentials adds a username/password to the logged in identity.
// Must be mounted behind Middleware.RequireAuth.
func (a *LocalAuth) HandleLinkCredentials(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	creds := &Credentials{}
	if isJSONRequest(r) {
		parsed, err := a.parseCredentials(r)
		if err != nil {
			a.respondError(NewAuthError(ErrCodeMissingField, err.Error(), "password"), a.getSuccessURL(), w, r)
			return
		}
		creds = parsed
	} else {
		// username may be omitted to keep the current one
		creds.Username = r.FormValue(a.getUsernameField())
		creds.Password = r.FormValue(a.getPasswordField())
	}

	err := a.SetLocalCredential(r.Context(), identity.ID, creds.Username, creds.Password)
	if err != nil {
		a.respondError(a.signupAuthError("link", err), a.getSuccessURL(), w, r)
		return
	}
	a.observer().ObserveAuth("link", OutcomeSuccess)
	a.respondSuccess(identity, w, r)
}

// signupAuthError maps Register/SetLocalCredential errors to user facing ones
// and records the outcome under method
func (a *LocalAuth) signupAuthError(method string, err error) *AuthError {
	var authErr *AuthError
	switch {
	case errors.As(err, &authErr):
		a.observer().ObserveAuth(method, OutcomeFailure)
		return authErr
	case errors.Is(err, ErrDuplicateUsername):
		a.observer().ObserveAuth(method, OutcomeConflict)
		return NewAuthError(ErrCodeUsernameTaken, "Username is already taken", "username")
	case errors.Is(err, ErrAlreadyLinked):
		a.observer().ObserveAuth(method, OutcomeFailure)
		return NewAuthError(ErrCodeAlreadyLinked, "A password is already set for this account", "")
	default:
		a.logger().Error(method+" failed", "err", err)
		a.observer().ObserveAuth(method, OutcomeError)
		return NewAuthError(ErrCodeInternal, "Signup failed, please try again", "").wrap(err)
	}
}
