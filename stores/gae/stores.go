//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	sa "github.com/panyam/secretauth"
)

// Kind constants for Datastore entities
const (
	KindIdentity = "Identity"
	KindUsername = "Username"
	KindProvider = "ProviderLink"
	KindSession  = "Session"
)

func namespacedKey(namespace, kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = namespace
	return key
}

// ============================================================================
// IdentityStore
// ============================================================================

// IdentityStore implements sa.IdentityStore using Google Cloud Datastore.
// Inserts run in a transaction that also creates the Username and
// ProviderLink index entities, so a second insert for the same key fails
// with sa.ErrConflict.
type IdentityStore struct {
	client    *datastore.Client
	namespace string
}

// NewIdentityStore creates a new Datastore-backed IdentityStore
func NewIdentityStore(client *datastore.Client, namespace string) *IdentityStore {
	return &IdentityStore{client: client, namespace: namespace}
}

func (s *IdentityStore) identityKey(id string) *datastore.Key {
	return namespacedKey(s.namespace, KindIdentity, id)
}

func (s *IdentityStore) usernameKey(username string) *datastore.Key {
	return namespacedKey(s.namespace, KindUsername, sa.NormalizeUsername(username))
}

func (s *IdentityStore) providerKey(providerID string) *datastore.Key {
	return namespacedKey(s.namespace, KindProvider, providerID)
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*sa.Identity, error) {
	if id == "" {
		return nil, sa.ErrNotFound
	}
	var entity IdentityEntity
	if err := s.client.Get(ctx, s.identityKey(id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sa.ErrNotFound
		}
		return nil, err
	}
	return entity.ToIdentity(), nil
}

func (s *IdentityStore) FindByUsername(ctx context.Context, username string) (*sa.Identity, error) {
	if strings.TrimSpace(username) == "" {
		return nil, sa.ErrNotFound
	}
	return s.findByIndex(ctx, s.usernameKey(username))
}

func (s *IdentityStore) FindByProviderID(ctx context.Context, providerID string) (*sa.Identity, error) {
	if providerID == "" {
		return nil, sa.ErrNotFound
	}
	return s.findByIndex(ctx, s.providerKey(providerID))
}

func (s *IdentityStore) findByIndex(ctx context.Context, key *datastore.Key) (*sa.Identity, error) {
	var idx IndexEntity
	if err := s.client.Get(ctx, key, &idx); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sa.ErrNotFound
		}
		return nil, err
	}
	return s.FindByID(ctx, idx.IdentityID)
}

// claim fails with sa.ErrConflict if key is already taken by another identity
func claim(tx *datastore.Transaction, key *datastore.Key, identityID string) (*IndexEntity, error) {
	var existing IndexEntity
	err := tx.Get(key, &existing)
	if err == nil {
		if existing.IdentityID == identityID {
			return nil, nil
		}
		return nil, sa.ErrConflict
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, err
	}
	return &IndexEntity{Key: key, IdentityID: identityID, CreatedAt: time.Now().UTC()}, nil
}

func (s *IdentityStore) Insert(ctx context.Context, identity *sa.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	idKey := s.identityKey(identity.ID)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing IdentityEntity
		if err := tx.Get(idKey, &existing); err == nil {
			return sa.ErrConflict
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		keys := []*datastore.Key{idKey}
		entities := []any{IdentityToEntity(identity, idKey)}
		if strings.TrimSpace(identity.Username) != "" {
			idx, err := claim(tx, s.usernameKey(identity.Username), identity.ID)
			if err != nil {
				return err
			}
			if idx != nil {
				keys, entities = append(keys, idx.Key), append(entities, idx)
			}
		}
		if identity.ProviderID != "" {
			idx, err := claim(tx, s.providerKey(identity.ProviderID), identity.ID)
			if err != nil {
				return err
			}
			if idx != nil {
				keys, entities = append(keys, idx.Key), append(entities, idx)
			}
		}
		_, err := tx.PutMulti(keys, entities)
		return err
	})
	return mapTxError(err)
}

func (s *IdentityStore) UpdateSecret(ctx context.Context, id string, secret string) error {
	key := s.identityKey(id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity IdentityEntity
		if err := tx.Get(key, &entity); err != nil {
			return err
		}
		entity.Secret = secret
		entity.HasSecret = true
		entity.UpdatedAt = time.Now().UTC()
		_, err := tx.Put(key, &entity)
		return err
	})
	return mapTxError(err)
}

func (s *IdentityStore) UpdateLocalCredential(ctx context.Context, id string, username string, passwordHash string) error {
	if strings.TrimSpace(username) == "" || passwordHash == "" {
		return sa.ErrInvalidIdentity
	}
	key := s.identityKey(id)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity IdentityEntity
		if err := tx.Get(key, &entity); err != nil {
			return err
		}

		if sa.NormalizeUsername(entity.Username) != sa.NormalizeUsername(username) {
			idx, err := claim(tx, s.usernameKey(username), id)
			if err != nil {
				return err
			}
			if idx != nil {
				if _, err := tx.Put(idx.Key, idx); err != nil {
					return err
				}
			}
			if strings.TrimSpace(entity.Username) != "" {
				if err := tx.Delete(s.usernameKey(entity.Username)); err != nil {
					return err
				}
			}
		}

		entity.Username = strings.TrimSpace(username)
		entity.PasswordHash = passwordHash
		entity.UpdatedAt = time.Now().UTC()
		_, err := tx.Put(key, &entity)
		return err
	})
	return mapTxError(err)
}

func (s *IdentityStore) ListWithSecrets(ctx context.Context) ([]*sa.Identity, error) {
	query := datastore.NewQuery(KindIdentity).
		FilterField("has_secret", "=", true)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	out := []*sa.Identity{}
	it := s.client.Run(ctx, query)
	for {
		var entity IdentityEntity
		key, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		entity.Key = key
		out = append(out, entity.ToIdentity())
	}
	// sorted here to avoid a composite index
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// mapTxError translates transaction errors into store errors. A transaction
// that kept colliding lost a race for the same keys.
func mapTxError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datastore.ErrNoSuchEntity):
		return sa.ErrNotFound
	case errors.Is(err, datastore.ErrConcurrentTransaction):
		return sa.ErrConflict
	}
	return err
}

// ============================================================================
// SessionStore
// ============================================================================

// SessionStore implements scs.CtxStore using Datastore
type SessionStore struct {
	client    *datastore.Client
	namespace string
}

// NewSessionStore creates a new Datastore-backed session store
func NewSessionStore(client *datastore.Client, namespace string) *SessionStore {
	return &SessionStore{client: client, namespace: namespace}
}

func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var entity SessionEntity
	if err := s.client.Get(ctx, namespacedKey(s.namespace, KindSession, token), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !entity.Expiry.After(time.Now()) {
		return nil, false, nil
	}
	return entity.Data, true, nil
}

func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	key := namespacedKey(s.namespace, KindSession, token)
	_, err := s.client.Put(ctx, key, &SessionEntity{Key: key, Data: b, Expiry: expiry.UTC()})
	return err
}

func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	err := s.client.Delete(ctx, namespacedKey(s.namespace, KindSession, token))
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil
	}
	return err
}

func (s *SessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *SessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *SessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

// DeleteExpired removes expired sessions and returns how many were removed
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	query := datastore.NewQuery(KindSession).
		FilterField("expiry", "<=", time.Now().UTC()).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// StartCleanup runs DeleteExpired every interval until ctx is done
func (s *SessionStore) StartCleanup(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.DeleteExpired(ctx); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
}
