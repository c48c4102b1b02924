package secretauth_test

import (
	"context"
	"testing"
	"time"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/stores/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionFixture(t *testing.T, cfg sa.SessionConfig) (*flakyStore, *sa.SessionManager, *sa.Identity) {
	t.Helper()
	store := &flakyStore{IdentityStore: fs.NewFSIdentityStore(t.TempDir())}
	alice := sa.NewIdentity("alice", "", "alice")
	require.NoError(t, store.Insert(context.Background(), alice))
	return store, sa.NewSessionManager(store, cfg), alice
}

func TestSessionIssueResolve(t *testing.T) {
	_, sessions, alice := newSessionFixture(t, sa.SessionConfig{})

	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)

	// a fresh session is anonymous
	identity, err := sessions.Resolve(ctx)
	require.NoError(t, err)
	assert.Nil(t, identity)

	token, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotContains(t, token, alice.ID)

	identity, err = sessions.Resolve(ctx)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, alice.ID, identity.ID)

	// the token alone is enough, from any context
	identity, err = sessions.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, alice.ID, identity.ID)
}

func TestSessionIssueRenewsToken(t *testing.T) {
	_, sessions, alice := newSessionFixture(t, sa.SessionConfig{})
	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)

	first, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)
	second, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// the replaced token no longer resolves
	identity, err := sessions.ResolveToken(context.Background(), first)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestSessionIssueRequiresIdentity(t *testing.T) {
	_, sessions, _ := newSessionFixture(t, sa.SessionConfig{})
	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)
	_, err = sessions.Issue(ctx, "")
	assert.ErrorIs(t, err, sa.ErrInvalidIdentity)
}

func TestSessionRevoke(t *testing.T) {
	_, sessions, alice := newSessionFixture(t, sa.SessionConfig{})
	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)
	token, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)

	require.NoError(t, sessions.RevokeToken(context.Background(), token))
	identity, err := sessions.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, identity)

	// revoking again, or revoking a token that never existed, is fine
	assert.NoError(t, sessions.RevokeToken(context.Background(), token))
	assert.NoError(t, sessions.RevokeToken(context.Background(), "no-such-token"))
	assert.NoError(t, sessions.RevokeToken(context.Background(), ""))
}

func TestSessionRevokeContext(t *testing.T) {
	_, sessions, alice := newSessionFixture(t, sa.SessionConfig{})
	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)
	token, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)

	require.NoError(t, sessions.Revoke(ctx))
	identity, err := sessions.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, identity)

	// anonymous sessions can be revoked too
	anon, err := sessions.NewContext(context.Background())
	require.NoError(t, err)
	assert.NoError(t, sessions.Revoke(anon))
}

func TestSessionUnknownToken(t *testing.T) {
	_, sessions, _ := newSessionFixture(t, sa.SessionConfig{})
	identity, err := sessions.ResolveToken(context.Background(), "made-up-token")
	assert.NoError(t, err)
	assert.Nil(t, identity)

	identity, err = sessions.ResolveToken(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, identity)
}

func TestSessionExpires(t *testing.T) {
	_, sessions, alice := newSessionFixture(t, sa.SessionConfig{Lifetime: 50 * time.Millisecond})
	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)
	token, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	identity, err := sessions.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestSessionForDeletedIdentityIsAnonymous(t *testing.T) {
	store, sessions, alice := newSessionFixture(t, sa.SessionConfig{})
	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)
	token, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)

	store.forget(alice.ID)

	identity, err := sessions.Resolve(ctx)
	require.NoError(t, err)
	assert.Nil(t, identity)

	identity, err = sessions.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestSessionStoreFailureIsAnError(t *testing.T) {
	store, sessions, alice := newSessionFixture(t, sa.SessionConfig{})
	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)
	token, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)

	store.setFailing(true)
	identity, err := sessions.ResolveToken(context.Background(), token)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Nil(t, identity)

	identity, err = sessions.Resolve(ctx)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Nil(t, identity)
}

type recordingObserver struct {
	auth     map[string]int
	sessions map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{auth: map[string]int{}, sessions: map[string]int{}}
}

func (o *recordingObserver) ObserveAuth(method, outcome string) { o.auth[method+"/"+outcome]++ }
func (o *recordingObserver) ObserveSession(event string)        { o.sessions[event]++ }

func TestSessionObserver(t *testing.T) {
	store, sessions, alice := newSessionFixture(t, sa.SessionConfig{})
	obs := newRecordingObserver()
	sessions.Observer = obs

	ctx, err := sessions.NewContext(context.Background())
	require.NoError(t, err)
	token, err := sessions.Issue(ctx, alice.ID)
	require.NoError(t, err)
	store.forget(alice.ID)
	_, err = sessions.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	require.NoError(t, sessions.RevokeToken(context.Background(), token))

	assert.Equal(t, 1, obs.sessions[sa.SessionIssued])
	assert.Equal(t, 1, obs.sessions[sa.SessionStale])
	assert.Equal(t, 1, obs.sessions[sa.SessionRevoked])
}
