// Package grpc applies the session gate to gRPC services. Callers send the
// session token in metadata and handlers read the resolved identity from the
// context.
package grpc

import (
	"context"

	sa "github.com/panyam/secretauth"
	"google.golang.org/grpc/metadata"
)

// DefaultMetadataKeySessionToken is the default gRPC metadata key carrying the session token
const DefaultMetadataKeySessionToken = "x-session-token"

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeySessionToken is the gRPC metadata key for the session token.
	// Defaults to "x-session-token".
	MetadataKeySessionToken string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{MetadataKeySessionToken: DefaultMetadataKeySessionToken}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeySessionToken == "" {
		c.MetadataKeySessionToken = DefaultMetadataKeySessionToken
	}
}

// SessionTokenFromContext extracts the session token from incoming metadata.
// Returns "" if there is none.
func SessionTokenFromContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeySessionToken); len(values) > 0 {
		return values[0]
	}
	return ""
}

// SessionTokenToOutgoingContext adds the session token to outgoing gRPC metadata.
func SessionTokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySessionToken, token)
}

// IdentityFromContext returns the identity the interceptor resolved for the call
func IdentityFromContext(ctx context.Context) (*sa.Identity, bool) {
	return sa.IdentityFromContext(ctx)
}

// IsAuthenticated returns true if the call carried a valid session
func IsAuthenticated(ctx context.Context) bool {
	_, ok := sa.IdentityFromContext(ctx)
	return ok
}
