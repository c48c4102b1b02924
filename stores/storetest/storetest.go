// Package storetest holds behaviour tests every IdentityStore backend must
// pass. Backends call RunIdentityStoreTests from their own _test.go files.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	sa "github.com/panyam/secretauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewStoreFunc returns an empty store for one subtest
type NewStoreFunc func(t *testing.T) sa.IdentityStore

// RunIdentityStoreTests exercises the IdentityStore contract against newStore
func RunIdentityStoreTests(t *testing.T, newStore NewStoreFunc) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newStore(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("RejectsInvalid", func(t *testing.T) { testRejectsInvalid(t, newStore(t)) })
	t.Run("UsernameUnique", func(t *testing.T) { testUsernameUnique(t, newStore(t)) })
	t.Run("ProviderIDUnique", func(t *testing.T) { testProviderIDUnique(t, newStore(t)) })
	t.Run("Secrets", func(t *testing.T) { testSecrets(t, newStore(t)) })
	t.Run("UpdateLocalCredential", func(t *testing.T) { testUpdateLocalCredential(t, newStore(t)) })
	t.Run("ConcurrentProviderInsert", func(t *testing.T) { testConcurrentProviderInsert(t, newStore(t)) })
}

func testInsertAndFind(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	alice := sa.NewIdentity("Alice", "", "Alice")
	alice.PasswordHash = "$2a$10$notarealhash"
	require.NoError(t, store.Insert(ctx, alice))

	got, err := store.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.Equal(t, "Alice", got.Username)
	assert.Equal(t, alice.PasswordHash, got.PasswordHash)
	assert.Nil(t, got.Secret)

	got, err = store.FindByUsername(ctx, "alice")
	require.NoError(t, err, "username lookup should be case-insensitive")
	assert.Equal(t, alice.ID, got.ID)

	fed := sa.NewIdentity("", sa.FederatedKey("google", "123"), "Bob")
	require.NoError(t, store.Insert(ctx, fed))
	got, err = store.FindByProviderID(ctx, "google:123")
	require.NoError(t, err)
	assert.Equal(t, fed.ID, got.ID)
	assert.Equal(t, "Bob", got.DisplayName)
	assert.False(t, got.HasLocalCredential())
}

// backends store timestamps at different precisions
var identityCmp = cmp.Options{
	cmpopts.EquateApproxTime(time.Second),
	cmpopts.EquateEmpty(),
}

func testRoundTrip(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	want := sa.NewIdentity("ivan", "github:9", "Ivan")
	want.PasswordHash = "$2a$10$roundtrip"
	require.NoError(t, store.Insert(ctx, want))

	got, err := store.FindByID(ctx, want.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, identityCmp); diff != "" {
		t.Errorf("FindByID mismatch (-want +got):\n%s", diff)
	}
}

func testNotFound(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	_, err := store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, sa.ErrNotFound)
	_, err = store.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, sa.ErrNotFound)
	_, err = store.FindByProviderID(ctx, "github:0")
	assert.ErrorIs(t, err, sa.ErrNotFound)
	assert.ErrorIs(t, store.UpdateSecret(ctx, "missing", "x"), sa.ErrNotFound)
}

func testRejectsInvalid(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	err := store.Insert(ctx, sa.NewIdentity("", "", "Nobody"))
	assert.ErrorIs(t, err, sa.ErrInvalidIdentity)

	list, err := store.ListWithSecrets(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testUsernameUnique(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	first := sa.NewIdentity("carol", "", "carol")
	require.NoError(t, store.Insert(ctx, first))

	err := store.Insert(ctx, sa.NewIdentity("CAROL", "", "CAROL"))
	assert.ErrorIs(t, err, sa.ErrConflict)

	got, err := store.FindByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "the first record should be untouched")
}

func testProviderIDUnique(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	first := sa.NewIdentity("", "github:42", "Dave")
	require.NoError(t, store.Insert(ctx, first))

	err := store.Insert(ctx, sa.NewIdentity("", "github:42", "Impostor"))
	assert.ErrorIs(t, err, sa.ErrConflict)

	got, err := store.FindByProviderID(ctx, "github:42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Dave", got.DisplayName)
}

func testSecrets(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	withSecret := sa.NewIdentity("erin", "", "erin")
	without := sa.NewIdentity("frank", "", "frank")
	require.NoError(t, store.Insert(ctx, withSecret))
	require.NoError(t, store.Insert(ctx, without))

	require.NoError(t, store.UpdateSecret(ctx, withSecret.ID, "hello"))

	got, err := store.FindByID(ctx, withSecret.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.SecretText())

	list, err := store.ListWithSecrets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, withSecret.ID, list[0].ID)
	assert.Equal(t, "hello", list[0].SecretText())

	require.NoError(t, store.UpdateSecret(ctx, withSecret.ID, "updated"))
	got, err = store.FindByID(ctx, withSecret.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.SecretText())
}

func testUpdateLocalCredential(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	fed := sa.NewIdentity("", "google:77", "Grace")
	taken := sa.NewIdentity("heidi", "", "heidi")
	require.NoError(t, store.Insert(ctx, fed))
	require.NoError(t, store.Insert(ctx, taken))

	err := store.UpdateLocalCredential(ctx, fed.ID, "Heidi", "$2a$10$hash")
	assert.ErrorIs(t, err, sa.ErrConflict)

	require.NoError(t, store.UpdateLocalCredential(ctx, fed.ID, "grace", "$2a$10$hash"))
	got, err := store.FindByUsername(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, fed.ID, got.ID)
	assert.Equal(t, "google:77", got.ProviderID)
	assert.True(t, got.HasLocalCredential())

	// renaming frees the old username
	require.NoError(t, store.UpdateLocalCredential(ctx, fed.ID, "grace2", "$2a$10$hash2"))
	_, err = store.FindByUsername(ctx, "grace")
	assert.ErrorIs(t, err, sa.ErrNotFound)
	got, err = store.FindByUsername(ctx, "grace2")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hash2", got.PasswordHash)

	// same name, new hash
	require.NoError(t, store.UpdateLocalCredential(ctx, fed.ID, "grace2", "$2a$12$hash3"))
	got, err = store.FindByID(ctx, fed.ID)
	require.NoError(t, err)
	assert.Equal(t, "$2a$12$hash3", got.PasswordHash)
}

func testConcurrentProviderInsert(t *testing.T, store sa.IdentityStore) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Insert(ctx, sa.NewIdentity("", "github:race", "Racer"))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, sa.ErrConflict)
		}
	}
	assert.Equal(t, 1, successes)
	_, err := store.FindByProviderID(ctx, "github:race")
	assert.NoError(t, err)
}
