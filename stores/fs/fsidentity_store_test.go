package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/stores/fs"
	"github.com/panyam/secretauth/stores/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSIdentityStore(t *testing.T) {
	storetest.RunIdentityStoreTests(t, func(t *testing.T) sa.IdentityStore {
		return fs.NewFSIdentityStore(t.TempDir())
	})
}

// Two stores over the same directory stand in for two processes
func TestFSIdentityStoreSharedDirectory(t *testing.T) {
	dir := t.TempDir()
	s1 := fs.NewFSIdentityStore(dir)
	s2 := fs.NewFSIdentityStore(dir)
	ctx := context.Background()

	first := sa.NewIdentity("ivan", "", "ivan")
	require.NoError(t, s1.Insert(ctx, first))

	loser := sa.NewIdentity("Ivan", "", "Ivan")
	err := s2.Insert(ctx, loser)
	assert.ErrorIs(t, err, sa.ErrConflict)

	_, err = os.Stat(filepath.Join(dir, "identities", loser.ID+".json"))
	assert.True(t, os.IsNotExist(err), "losing insert should remove its identity file")

	got, err := s2.FindByUsername(ctx, "IVAN")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestFSIdentityStoreRollsBackUsernameClaim(t *testing.T) {
	store := fs.NewFSIdentityStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sa.NewIdentity("", "github:1", "Judy")))

	// username claim succeeds, provider claim conflicts
	both := sa.NewIdentity("judy", "github:1", "Judy")
	assert.ErrorIs(t, store.Insert(ctx, both), sa.ErrConflict)

	_, err := store.FindByUsername(ctx, "judy")
	assert.ErrorIs(t, err, sa.ErrNotFound, "username should be free again")
	require.NoError(t, store.Insert(ctx, sa.NewIdentity("judy", "", "judy")))
}
