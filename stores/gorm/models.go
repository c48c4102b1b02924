//go:build !wasm
// +build !wasm

package gorm

import (
	"strings"
	"time"

	sa "github.com/panyam/secretauth"
)

// IdentityModel is the GORM model for identities. UsernameKey and ProviderID
// are NULL when unset so the unique indexes only cover real values.
type IdentityModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Username     string    `gorm:"size:64;not null"`
	UsernameKey  *string   `gorm:"size:64;uniqueIndex"`
	PasswordHash string    `gorm:"size:128;not null"`
	ProviderID   *string   `gorm:"size:255;uniqueIndex"`
	DisplayName  string    `gorm:"size:255;not null"`
	Secret       *string   `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (IdentityModel) TableName() string {
	return "identities"
}

func (m *IdentityModel) ToIdentity() *sa.Identity {
	out := &sa.Identity{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		DisplayName:  m.DisplayName,
		Secret:       m.Secret,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.ProviderID != nil {
		out.ProviderID = *m.ProviderID
	}
	return out
}

func IdentityToModel(identity *sa.Identity) *IdentityModel {
	return &IdentityModel{
		ID:           identity.ID,
		Username:     strings.TrimSpace(identity.Username),
		UsernameKey:  nullable(sa.NormalizeUsername(identity.Username)),
		PasswordHash: identity.PasswordHash,
		ProviderID:   nullable(identity.ProviderID),
		DisplayName:  identity.DisplayName,
		Secret:       identity.Secret,
		CreatedAt:    identity.CreatedAt,
		UpdatedAt:    identity.UpdatedAt,
	}
}

// SessionModel is the GORM model for scs sessions
type SessionModel struct {
	Token  string    `gorm:"primaryKey;size:64"`
	Data   []byte    `gorm:"not null"`
	Expiry time.Time `gorm:"not null;index:idx_sessions_expiry"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
