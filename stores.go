package secretauth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity is the durable record of one user, independent of how that user
// authenticates.
type Identity struct {
	ID           string    `json:"id"`
	Username     string    `json:"username,omitempty"`      // local login name, optional
	PasswordHash string    `json:"password_hash,omitempty"` // bcrypt blob, salt included
	ProviderID   string    `json:"provider_id,omitempty"`   // FederatedKey of the linked provider account
	DisplayName  string    `json:"display_name"`
	Secret       *string   `json:"secret,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewIdentity returns an identity with a fresh ID. The ID carries no
// information about the user.
func NewIdentity(username, providerID, displayName string) *Identity {
	now := time.Now().UTC()
	return &Identity{
		ID:          uuid.NewString(),
		Username:    username,
		ProviderID:  providerID,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the record level invariants. Stores call this before insert.
func (i *Identity) Validate() error {
	if i == nil || i.ID == "" {
		return ErrInvalidIdentity
	}
	if strings.TrimSpace(i.Username) == "" && i.ProviderID == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// HasLocalCredential returns true if the identity can log in with a password
func (i *Identity) HasLocalCredential() bool {
	return i.Username != "" && i.PasswordHash != ""
}

// SecretText returns the secret or "" when none has been set
func (i *Identity) SecretText() string {
	if i.Secret == nil {
		return ""
	}
	return *i.Secret
}

// IdentityStore is the credential store. Implementations must enforce
// uniqueness of NormalizeUsername(Username) and of ProviderID themselves
// (Insert returns ErrConflict) so that find-or-create never needs an
// unguarded read-then-write.
type IdentityStore interface {
	// FindByID returns ErrNotFound when no identity has the id
	FindByID(ctx context.Context, id string) (*Identity, error)

	// FindByUsername looks up by NormalizeUsername(username)
	FindByUsername(ctx context.Context, username string) (*Identity, error)

	// FindByProviderID looks up by federated key
	FindByProviderID(ctx context.Context, providerID string) (*Identity, error)

	// Insert creates a new identity. Returns ErrConflict if the username or
	// provider id is already taken and ErrInvalidIdentity if the record is
	// invalid.
	Insert(ctx context.Context, identity *Identity) error

	// UpdateSecret sets the user's secret text
	UpdateSecret(ctx context.Context, id string, secret string) error

	// UpdateLocalCredential sets the username and password hash. Returns
	// ErrConflict if the username belongs to someone else.
	UpdateLocalCredential(ctx context.Context, id string, username string, passwordHash string) error

	// ListWithSecrets returns every identity whose secret is set
	ListWithSecrets(ctx context.Context) ([]*Identity, error)
}

// NormalizeUsername is the uniqueness key for usernames
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// FederatedKey creates the provider id stored on an identity from the
// provider name and the stable subject the provider assigned.
func FederatedKey(provider, subject string) string {
	return provider + ":" + subject
}
