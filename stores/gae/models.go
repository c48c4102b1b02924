//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	sa "github.com/panyam/secretauth"
)

// IdentityEntity is the Datastore entity for identities, keyed by identity ID.
// HasSecret exists because Datastore cannot filter on a missing property.
type IdentityEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	ProviderID   string         `datastore:"provider_id"`
	DisplayName  string         `datastore:"display_name,noindex"`
	Secret       string         `datastore:"secret,noindex"`
	HasSecret    bool           `datastore:"has_secret"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

func (e *IdentityEntity) ToIdentity() *sa.Identity {
	out := &sa.Identity{
		Username:     e.Username,
		PasswordHash: e.PasswordHash,
		ProviderID:   e.ProviderID,
		DisplayName:  e.DisplayName,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.Key != nil {
		out.ID = e.Key.Name
	}
	if e.HasSecret {
		secret := e.Secret
		out.Secret = &secret
	}
	return out
}

func IdentityToEntity(i *sa.Identity, key *datastore.Key) *IdentityEntity {
	return &IdentityEntity{
		Key:          key,
		Username:     i.Username,
		PasswordHash: i.PasswordHash,
		ProviderID:   i.ProviderID,
		DisplayName:  i.DisplayName,
		Secret:       i.SecretText(),
		HasSecret:    i.Secret != nil,
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

// IndexEntity claims a unique username or provider id for an identity. Its
// key name is the normalized username or the federated key.
type IndexEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	IdentityID string         `datastore:"identity_id"`
	CreatedAt  time.Time      `datastore:"created_at"`
}

// SessionEntity is the Datastore entity for scs sessions, keyed by token
type SessionEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	Data   []byte         `datastore:"data,noindex"`
	Expiry time.Time      `datastore:"expiry"`
}
