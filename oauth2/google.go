package oauth2

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// NewGoogle creates a Google provider asking only for the basic profile
func NewGoogle(clientID, clientSecret, callbackURL string) *Provider {
	return &Provider{
		Name: "google",
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"profile"},
			Endpoint:     google.Endpoint,
		},
		FetchProfile: GoogleProfile(""),
	}
}

// GoogleProfile fetches the userinfo resource. endpoint overrides the API
// base URL and is only set in tests.
func GoogleProfile(endpoint string) ProfileFetcher {
	return func(ctx context.Context, client *http.Client, _ *oauth2.Token) (*Profile, error) {
		opts := []option.ClientOption{option.WithHTTPClient(client)}
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		svc, err := googleoauth2.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create userinfo client: %w", err)
		}
		info, err := svc.Userinfo.Get().Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed getting user info from google: %w", err)
		}
		return &Profile{
			Subject:     info.Id,
			DisplayName: info.Name,
			Email:       info.Email,
		}, nil
	}
}
