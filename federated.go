package secretauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/panyam/secretauth/oauth2"
)

// FederatedResolver maps a provider profile onto exactly one durable Identity
// and logs the user in.
type FederatedResolver struct {
	Store    IdentityStore
	Sessions *SessionManager

	// Where a successful login goes when no return path was carried through
	// the exchange. Defaults to "/secrets".
	SuccessURL string

	// Where failed logins are sent. Defaults to "/login".
	FailureURL string

	// How many times to re-run find-or-create after losing an insert race.
	// Defaults to 3.
	MaxRetries int

	Logger   *slog.Logger
	Observer Observer
}

// Resolve finds the identity linked to the profile's federated key or
// creates it. Concurrent first logins for the same key all return the same
// identity: the store rejects the losing inserts with ErrConflict and the
// loser re-reads the winner. The display name of an existing identity is
// left as it is.
func (f *FederatedResolver) Resolve(ctx context.Context, profile *oauth2.Profile) (*Identity, error) {
	ctx, span := tracer().Start(ctx, "FederatedResolver.Resolve")
	defer span.End()

	if profile == nil || profile.Provider == "" || profile.Subject == "" {
		return nil, ErrInvalidIdentity
	}
	key := FederatedKey(profile.Provider, profile.Subject)

	retries := f.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	for attempt := 0; attempt <= retries; attempt++ {
		identity, err := f.Store.FindByProviderID(ctx, key)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to look up federated identity: %w", err)
		}

		displayName := profile.DisplayName
		if displayName == "" {
			displayName = key
		}
		identity = NewIdentity("", key, displayName)
		err = f.Store.Insert(ctx, identity)
		if err == nil {
			f.logger().Info("created federated identity", "identity", identity.ID, "provider", profile.Provider)
			return identity, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("failed to create federated identity: %w", err)
		}
		f.observer().ObserveAuth(profile.Provider, OutcomeConflict)
	}
	return nil, fmt.Errorf("federated identity for %s still conflicting after %d attempts: %w", key, retries, ErrConflict)
}

// HandleProfile is the provider's success callback. It resolves the identity,
// binds the session and redirects to returnTo (already checked to be a local
// path) or SuccessURL.
func (f *FederatedResolver) HandleProfile(profile *oauth2.Profile, returnTo string, w http.ResponseWriter, r *http.Request) {
	identity, err := f.Resolve(r.Context(), profile)
	if err != nil {
		f.logger().Error("federated login failed", "provider", profile.Provider, "err", err)
		f.observer().ObserveAuth(profile.Provider, OutcomeError)
		f.fail(w, r)
		return
	}
	if _, err := f.Sessions.Issue(r.Context(), identity.ID); err != nil {
		f.logger().Error("failed to issue session", "identity", identity.ID, "err", err)
		f.observer().ObserveAuth(profile.Provider, OutcomeError)
		f.fail(w, r)
		return
	}

	f.logger().Info("federated login", "provider", profile.Provider, "display_name", profile.DisplayName, "identity", identity.ID)
	f.observer().ObserveAuth(profile.Provider, OutcomeSuccess)
	http.Redirect(w, r, SafeRedirectPath(returnTo, f.getSuccessURL()), http.StatusFound)
}

// HandleFailure is the provider's failure callback. No identity or session is
// touched.
func (f *FederatedResolver) HandleFailure(provider string, err error, w http.ResponseWriter, r *http.Request) {
	f.logger().Warn("federated exchange failed", "provider", provider, "err", err)
	f.observer().ObserveAuth(provider, OutcomeFailure)
	f.fail(w, r)
}

func (f *FederatedResolver) fail(w http.ResponseWriter, r *http.Request) {
	target := "/login"
	if f.FailureURL != "" {
		target = f.FailureURL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (f *FederatedResolver) getSuccessURL() string {
	if f.SuccessURL != "" {
		return f.SuccessURL
	}
	return "/secrets"
}

func (f *FederatedResolver) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *FederatedResolver) observer() Observer {
	return observerOrNop(f.Observer)
}
