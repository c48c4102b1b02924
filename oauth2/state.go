package oauth2

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// stateClaims is the pending exchange. It lives only in the signed state
// cookie and says nothing about who the user is.
type stateClaims struct {
	Provider string `json:"prv"`
	Nonce    string `json:"nonce"`
	ReturnTo string `json:"ret,omitempty"`
	jwt.RegisteredClaims
}

func signState(secret []byte, provider, nonce, returnTo string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("state secret not configured")
	}
	now := time.Now()
	claims := stateClaims{
		Provider: provider,
		Nonce:    nonce,
		ReturnTo: returnTo,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseState(secret []byte, value string) (*stateClaims, error) {
	if len(secret) == 0 {
		return nil, errors.New("state secret not configured")
	}
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func tracer() trace.Tracer {
	return otel.Tracer("github.com/panyam/secretauth/oauth2")
}
