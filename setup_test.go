package secretauth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/stores/fs"
	"golang.org/x/crypto/bcrypt"
)

// testEnv is a SecretAuth over a temp dir store, with an extra /test-login
// route that binds the session to ?id= so tests can act as any identity.
type testEnv struct {
	store    *flakyStore
	sessions *sa.SessionManager
	auth     *sa.SecretAuth
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := &flakyStore{IdentityStore: fs.NewFSIdentityStore(t.TempDir())}
	sessions := sa.NewSessionManager(store, sa.SessionConfig{})
	auth := sa.New(store, sessions)
	auth.Local.BcryptCost = bcrypt.MinCost

	mux := http.NewServeMux()
	mux.Handle("/", auth.Handler())
	mux.HandleFunc("/test-login", func(w http.ResponseWriter, r *http.Request) {
		if _, err := sessions.Issue(r.Context(), r.URL.Query().Get("id")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/protected", auth.Middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := sa.IdentityFromContext(r.Context())
		w.Write([]byte(identity.ID))
	})))

	return &testEnv{
		store:    store,
		sessions: sessions,
		auth:     auth,
		handler:  sessions.LoadAndSave(mux),
	}
}

func (e *testEnv) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postForm(path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req, cookie)
}

func (e *testEnv) postJSON(path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, cookie)
}

// loginAs returns a session cookie bound to identityID
func (e *testEnv) loginAs(t *testing.T, identityID string) *http.Cookie {
	t.Helper()
	rr := e.do(httptest.NewRequest(http.MethodGet, "/test-login?id="+url.QueryEscape(identityID), nil), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("test login failed: %d %s", rr.Code, rr.Body.String())
	}
	cookie := sessionCookie(rr)
	if cookie == nil {
		t.Fatal("no session cookie after test login")
	}
	return cookie
}

func newGet(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, nil)
}

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == "session" && c.Value != "" {
			return c
		}
	}
	return nil
}

// flakyStore wraps a real store and can fail lookups or pretend identities
// were deleted.
type flakyStore struct {
	sa.IdentityStore

	mu      sync.Mutex
	failAll bool
	deleted map[string]bool
}

var errStoreDown = errors.New("store unavailable")

func (s *flakyStore) setFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = fail
}

func (s *flakyStore) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted == nil {
		s.deleted = map[string]bool{}
	}
	s.deleted[id] = true
}

func (s *flakyStore) FindByID(ctx context.Context, id string) (*sa.Identity, error) {
	s.mu.Lock()
	fail, gone := s.failAll, s.deleted[id]
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	if gone {
		return nil, sa.ErrNotFound
	}
	return s.IdentityStore.FindByID(ctx, id)
}
