package secretauth

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword derives a salted bcrypt hash. A cost of 0 uses bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares in constant time with respect to the stored hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// needsRehash reports whether hash was produced with a lower cost than wanted
func needsRehash(hash string, cost int) bool {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	got, err := bcrypt.Cost([]byte(hash))
	return err == nil && got < cost
}

// SafeRedirectPath returns target if it is a local absolute path, else fallback.
// Used for callbackURL style parameters so logins cannot bounce users to
// other hosts.
func SafeRedirectPath(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return target
}
