//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the
// secretauth identity store and an scs session store.
//
// # Datastore Kinds
//
//   - Identity: one entity per user, keyed by identity ID
//   - Username: unique index entity keyed by the normalized username
//   - ProviderLink: unique index entity keyed by "<provider>:<subject>"
//   - Session: scs session data keyed by token
//
// # Namespacing
//
// All stores support Datastore namespaces for multi-tenant applications:
//
//	identities := gae.NewIdentityStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	identities := gae.NewIdentityStore(client, "")  // default namespace
//	sessions := gae.NewSessionStore(client, "")
package gae
