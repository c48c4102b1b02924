package oauth2

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrExchangeFailed  = errors.New("oauth2 exchange failed")
	ErrExchangeTimeout = errors.New("oauth2 exchange timed out")
	ErrStateMismatch   = errors.New("oauth2 state missing or mismatched")
	ErrProviderDenied  = errors.New("provider returned an error")
)

// State of a single login attempt
type State int

const (
	StateAnonymous State = iota
	StateAwaitingCallback
	StateExchangeFailed
	StateExchanged
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "ANONYMOUS"
	case StateAwaitingCallback:
		return "AWAITING_PROVIDER_CALLBACK"
	case StateExchangeFailed:
		return "EXCHANGE_FAILED"
	case StateExchanged:
		return "EXCHANGED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Profile is what a provider tells us about the user. Subject is the stable
// id the provider assigns and never changes for the account.
type Profile struct {
	Provider    string
	Subject     string
	DisplayName string
	Email       string
}

// Result of completing a callback
type Result struct {
	State    State
	Profile  *Profile
	ReturnTo string
}

// ProfileFetcher loads the user's profile with an authorized client. It must
// honour ctx so the exchange timeout also bounds it.
type ProfileFetcher func(ctx context.Context, client *http.Client, token *oauth2.Token) (*Profile, error)

// SuccessFunc is called after a successful exchange. returnTo is the path
// the login was started with and must still be validated before redirecting.
type SuccessFunc func(profile *Profile, returnTo string, w http.ResponseWriter, r *http.Request)

// FailureFunc is called when the exchange fails for any reason
type FailureFunc func(provider string, err error, w http.ResponseWriter, r *http.Request)

// Provider drives the authorization code flow for one identity provider.
// Mount it under /auth/<name>/; "callback" paths complete the exchange and
// everything else starts one.
type Provider struct {
	Name   string
	Config oauth2.Config

	FetchProfile ProfileFetcher

	// Bounds the token exchange and the profile fetch together. Defaults to 10s.
	ExchangeTimeout time.Duration

	// HMAC key for the state cookie. Required.
	StateSecret []byte

	// Defaults to "oauthstate"
	StateCookieName string

	// How long a started login stays valid. Defaults to 10 minutes.
	StateTTL time.Duration

	SecureCookies bool

	// Query parameter on the login request holding the return path.
	// Defaults to "callbackURL".
	CallbackURLParam string

	// Used for the exchange and profile calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	OnSuccess SuccessFunc
	OnFailure FailureFunc

	Logger *slog.Logger
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/callback") {
		p.HandleCallback(w, r)
		return
	}
	p.HandleLogin(w, r)
}

// HandleLogin starts an attempt and redirects to the provider's consent page
func (p *Provider) HandleLogin(w http.ResponseWriter, r *http.Request) {
	nonce := rand.Text()
	returnTo := r.URL.Query().Get(p.callbackURLParam())
	if !strings.HasPrefix(returnTo, "/") {
		returnTo = ""
	}

	value, err := signState(p.StateSecret, p.Name, nonce, returnTo, p.stateTTL())
	if err != nil {
		p.logger().Error("failed to sign oauth state", "provider", p.Name, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     p.stateCookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   int(p.stateTTL().Seconds()),
		HttpOnly: true,
		Secure:   p.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.Config.AuthCodeURL(nonce), http.StatusFound)
}

// HandleCallback completes the attempt and hands the outcome to OnSuccess or
// OnFailure. The state cookie is cleared either way.
func (p *Provider) HandleCallback(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.stateCookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.SecureCookies,
	})

	res, err := p.Complete(r)
	if err != nil {
		if p.OnFailure != nil {
			p.OnFailure(p.Name, err, w, r)
		} else {
			p.logger().Warn("oauth2 login failed", "provider", p.Name, "err", err)
			http.Redirect(w, r, "/login", http.StatusFound)
		}
		return
	}
	if p.OnSuccess == nil {
		http.Error(w, "login handler not configured", http.StatusInternalServerError)
		return
	}
	p.OnSuccess(res.Profile, res.ReturnTo, w, r)
}

// Complete runs the callback step of the attempt. The returned Result is
// never nil: its State is StateExchanged on success and StateExchangeFailed
// otherwise, with the cause in the error.
func (p *Provider) Complete(r *http.Request) (*Result, error) {
	res := &Result{State: StateAwaitingCallback}
	fail := func(err error) (*Result, error) {
		res.State = StateExchangeFailed
		return res, err
	}
	q := r.URL.Query()

	if code := q.Get("error"); code != "" {
		// the description is for operators only
		p.logger().Warn("provider returned an error", "provider", p.Name, "error", code, "description", q.Get("error_description"))
		return fail(fmt.Errorf("%w: %s", ErrProviderDenied, code))
	}

	cookie, err := r.Cookie(p.stateCookieName())
	if err != nil || cookie.Value == "" {
		return fail(fmt.Errorf("%w: no state cookie", ErrStateMismatch))
	}
	claims, err := parseState(p.StateSecret, cookie.Value)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrStateMismatch, err))
	}
	if claims.Provider != p.Name || subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(q.Get("state"))) != 1 {
		return fail(fmt.Errorf("%w: nonce does not match", ErrStateMismatch))
	}
	res.ReturnTo = claims.ReturnTo

	code := q.Get("code")
	if code == "" {
		return fail(fmt.Errorf("%w: missing code", ErrExchangeFailed))
	}

	ctx, span := tracer().Start(r.Context(), "oauth2.Exchange")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.exchangeTimeout())
	defer cancel()
	if p.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	}

	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return fail(exchangeError(ctx, "token exchange", err))
	}
	if p.FetchProfile == nil {
		return fail(fmt.Errorf("%w: no profile fetcher for %s", ErrExchangeFailed, p.Name))
	}
	profile, err := p.FetchProfile(ctx, p.Config.Client(ctx, token), token)
	if err != nil {
		return fail(exchangeError(ctx, "profile fetch", err))
	}
	if profile == nil || profile.Subject == "" {
		return fail(fmt.Errorf("%w: profile has no subject", ErrExchangeFailed))
	}
	profile.Provider = p.Name

	res.State = StateExchanged
	res.Profile = profile
	return res, nil
}

func exchangeError(ctx context.Context, step string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrExchangeTimeout, step)
	}
	return fmt.Errorf("%w: %s: %v", ErrExchangeFailed, step, err)
}

func (p *Provider) exchangeTimeout() time.Duration {
	if p.ExchangeTimeout > 0 {
		return p.ExchangeTimeout
	}
	return 10 * time.Second
}

func (p *Provider) stateTTL() time.Duration {
	if p.StateTTL > 0 {
		return p.StateTTL
	}
	return 10 * time.Minute
}

func (p *Provider) stateCookieName() string {
	if p.StateCookieName != "" {
		return p.StateCookieName
	}
	return "oauthstate"
}

func (p *Provider) callbackURLParam() string {
	if p.CallbackURLParam != "" {
		return p.CallbackURLParam
	}
	return "callbackURL"
}

func (p *Provider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
