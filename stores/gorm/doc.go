//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the secretauth identity
// store and an scs session store. It is tested against SQLite and meant for
// PostgreSQL in production.
//
// # Database Schema
//
//   - identities: one row per user, unique indexes on username_key (the
//     normalized username) and provider_id
//   - sessions: scs session data keyed by token
//
// Schema changes ship as goose migrations under migrations/ (see Migrate);
// AutoMigrate is kept for SQLite and tests.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	identities := gormstore.NewIdentityStore(db)
//	sessions := gormstore.NewSessionStore(db)
package gorm
