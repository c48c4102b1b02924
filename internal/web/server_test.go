package web_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	oauth2lib "golang.org/x/oauth2"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/internal/metrics"
	"github.com/panyam/secretauth/internal/web"
	"github.com/panyam/secretauth/oauth2"
	"github.com/panyam/secretauth/stores/fs"
)

type testApp struct {
	server *httptest.Server
	store  sa.IdentityStore
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store := fs.NewFSIdentityStore(t.TempDir())
	sessions := sa.NewSessionManager(store, sa.SessionConfig{})
	auth := sa.New(store, sessions)
	auth.Local.BcryptCost = bcrypt.MinCost

	provider := newFakeProvider(t)
	gh := oauth2.NewGitHub("client", "secret", "http://localhost/auth/github/callback")
	gh.Config.Endpoint = oauth2lib.Endpoint{AuthURL: provider.URL + "/authorize", TokenURL: provider.URL + "/token"}
	gh.FetchProfile = oauth2.GitHubProfile(provider.URL + "/user")
	gh.StateSecret = []byte("state-secret")
	auth.AddProvider(gh)

	srv, err := web.NewServer(auth, metrics.New(), nil)
	require.NoError(t, err)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)
	return &testApp{server: server, store: store}
}

// client keeps cookies and does not follow redirects
func (a *testApp) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (a *testApp) get(t *testing.T, c *http.Client, path string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(a.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (a *testApp) post(t *testing.T, c *http.Client, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(a.server.URL+path, form)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestSubmitSecretJourney(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	resp := app.post(t, c, "/register", url.Values{"username": {"alice"}, "password": {"swordfish"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/secrets", resp.Header.Get("Location"))

	resp, body := app.get(t, c, "/submit")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="secret"`)

	resp = app.post(t, c, "/submit", url.Values{"secret": {"hello"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/secrets", resp.Header.Get("Location"))

	alice, err := app.store.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, alice.Secret)
	assert.Equal(t, "hello", *alice.Secret)

	// the list is public and anonymous
	_, body = app.get(t, app.client(t), "/secrets")
	assert.Contains(t, body, "hello")
	assert.NotContains(t, body, "alice")

	// logging back in later still reaches the same identity
	resp, _ = app.get(t, c, "/logout")
	assert.Equal(t, "/", resp.Header.Get("Location"))
	resp, _ = app.get(t, c, "/submit")
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	resp = app.post(t, c, "/login", url.Values{"username": {"alice"}, "password": {"swordfish"}})
	assert.Equal(t, "/secrets", resp.Header.Get("Location"))
	_, body = app.get(t, c, "/submit")
	assert.Contains(t, body, `value="hello"`)
}

func TestSubmitRequiresSession(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	resp, _ := app.get(t, c, "/submit")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?callbackURL=%2Fsubmit", resp.Header.Get("Location"))

	resp = app.post(t, c, "/submit", url.Values{"secret": {"sneaky"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	identities, err := app.store.ListWithSecrets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, identities)
}

func TestLoginReturnsToCallback(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	app.post(t, c, "/register", url.Values{"username": {"bob"}, "password": {"password123"}})
	app.get(t, c, "/logout")

	_, body := app.get(t, c, "/login?callbackURL=%2Fsubmit")
	assert.Contains(t, body, `name="callbackURL" value="/submit"`)
	assert.Contains(t, body, "Sign in with Github")

	resp := app.post(t, c, "/login", url.Values{"username": {"bob"}, "password": {"password123"}, "callbackURL": {"/submit"}})
	assert.Equal(t, "/submit", resp.Header.Get("Location"))
}

func TestLoginFailureShowsMessage(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	resp := app.post(t, c, "/login", url.Values{"username": {"nobody"}, "password": {"swordfish"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?error=invalid_credentials", resp.Header.Get("Location"))

	_, body := app.get(t, c, "/login?error=invalid_credentials")
	assert.Contains(t, body, "Invalid username or password.")

	_, body = app.get(t, c, "/register?error=username_taken")
	assert.Contains(t, body, "That username is already taken.")
}

func TestSubmitValidation(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	app.post(t, c, "/register", url.Values{"username": {"carol"}, "password": {"password123"}})

	resp := app.post(t, c, "/submit", url.Values{"secret": {"   "}})
	assert.Equal(t, "/submit?error=empty_secret", resp.Header.Get("Location"))

	resp = app.post(t, c, "/submit", url.Values{"secret": {strings.Repeat("x", web.DefaultMaxSecretLength+1)}})
	assert.Equal(t, "/submit?error=secret_too_long", resp.Header.Get("Location"))

	// markup is escaped on the public page
	app.post(t, c, "/submit", url.Values{"secret": {"<script>alert(1)</script>"}})
	_, body := app.get(t, c, "/secrets")
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestFederatedCallbackError(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	resp, _ := app.get(t, c, "/auth/github/")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")

	resp, _ = app.get(t, c, "/auth/github/callback?error=access_denied&error_description=user+said+no&state="+state)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	// no identity was created and the session is still anonymous
	_, err = app.store.FindByProviderID(context.Background(), "github:4242")
	assert.ErrorIs(t, err, sa.ErrNotFound)
	resp, _ = app.get(t, c, "/submit")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestFederatedLogin(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	resp, _ := app.get(t, c, "/auth/github/?callbackURL=/submit")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "read:user", loc.Query().Get("scope"))

	resp, _ = app.get(t, c, "/auth/github/callback?code=abc&state="+loc.Query().Get("state"))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/submit", resp.Header.Get("Location"))

	resp, body := app.get(t, c, "/submit")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Fake User")

	identity, err := app.store.FindByProviderID(context.Background(), "github:4242")
	require.NoError(t, err)
	assert.Equal(t, "Fake User", identity.DisplayName)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	resp, body := app.get(t, c, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	app.post(t, c, "/login", url.Values{"username": {"nobody"}, "password": {"swordfish"}})
	_, body = app.get(t, c, "/metrics")
	assert.Contains(t, body, `secretauth_auth_attempts_total{method="local",outcome="failure"} 1`)
}

func TestJSONLogin(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	app.post(t, c, "/register", url.Values{"username": {"dave"}, "password": {"password123"}})

	resp, err := c.Post(app.server.URL+"/auth/login", "application/json", strings.NewReader(`{"username":"dave","password":"password123"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
}

// newFakeProvider serves a token endpoint and a GitHub style user endpoint
func newFakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 4242, "login": "fake", "name": "Fake User"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}
