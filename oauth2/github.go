package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubUserURL is GitHub's authenticated user endpoint
const GitHubUserURL = "https://api.github.com/user"

// NewGitHub creates a GitHub provider with the read:user scope
func NewGitHub(clientID, clientSecret, callbackURL string) *Provider {
	return &Provider{
		Name: "github",
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user"},
			Endpoint:     github.Endpoint,
		},
		FetchProfile: GitHubProfile(GitHubUserURL),
	}
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GitHubProfile fetches the user from userURL. The numeric id is the subject;
// logins can be renamed.
func GitHubProfile(userURL string) ProfileFetcher {
	return func(ctx context.Context, client *http.Client, _ *oauth2.Token) (*Profile, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, userURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed getting user info from github: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("github user endpoint returned %d", resp.StatusCode)
		}

		var user githubUser
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return nil, fmt.Errorf("failed to parse user info: %w", err)
		}
		if user.ID == 0 {
			return nil, fmt.Errorf("github user has no id")
		}
		name := user.Name
		if name == "" {
			name = user.Login
		}
		return &Profile{
			Subject:     strconv.FormatInt(user.ID, 10),
			DisplayName: name,
			Email:       user.Email,
		}, nil
	}
}
