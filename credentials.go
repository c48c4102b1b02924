package secretauth

import (
	"fmt"
	"regexp"
	"strings"
)

// Credentials represents a username/password pair submitted for signup or login
type Credentials struct {
	Username string
	Password string
}

// SignupPolicy defines what a new local credential must satisfy
type SignupPolicy struct {
	MinUsernameLength int
	MaxUsernameLength int
	MinPasswordLength int
	MaxPasswordLength int // in bytes, capped at MaxBcryptPasswordLength
	UsernamePattern   *regexp.Regexp
}

// MaxBcryptPasswordLength is the longest password bcrypt accepts, in bytes
const MaxBcryptPasswordLength = 72

var defaultUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

// DefaultSignupPolicy is used when LocalAuth has no policy set
var DefaultSignupPolicy = SignupPolicy{
	MinUsernameLength: 3,
	MaxUsernameLength: 32,
	MinPasswordLength: 8,
	MaxPasswordLength: MaxBcryptPasswordLength,
	UsernamePattern:   defaultUsernamePattern,
}

// GetMinPasswordLength returns the minimum password length (defaults to 8)
func (p *SignupPolicy) GetMinPasswordLength() int {
	if p == nil || p.MinPasswordLength <= 0 {
		return 8
	}
	return p.MinPasswordLength
}

// GetMaxPasswordLength returns the maximum password length in bytes, never
// more than bcrypt accepts
func (p *SignupPolicy) GetMaxPasswordLength() int {
	if p == nil || p.MaxPasswordLength <= 0 || p.MaxPasswordLength > MaxBcryptPasswordLength {
		return MaxBcryptPasswordLength
	}
	return p.MaxPasswordLength
}

// GetUsernamePattern returns the username pattern, or the default one
func (p *SignupPolicy) GetUsernamePattern() *regexp.Regexp {
	if p == nil || p.UsernamePattern == nil {
		return defaultUsernamePattern
	}
	return p.UsernamePattern
}

// Validate checks creds against the policy. The returned AuthError is safe to
// show to the user.
func (p *SignupPolicy) Validate(creds *Credentials) *AuthError {
	username := strings.TrimSpace(creds.Username)
	if username == "" {
		return NewAuthError(ErrCodeMissingField, "Username is required", "username")
	}
	if creds.Password == "" {
		return NewAuthError(ErrCodeMissingField, "Password is required", "password")
	}

	minLen, maxLen := 3, 32
	if p != nil && p.MinUsernameLength > 0 {
		minLen = p.MinUsernameLength
	}
	if p != nil && p.MaxUsernameLength > 0 {
		maxLen = p.MaxUsernameLength
	}
	if len(username) < minLen || len(username) > maxLen || !p.GetUsernamePattern().MatchString(username) {
		msg := fmt.Sprintf("Username must be %d-%d characters and contain only letters, numbers, dots, @, underscores and hyphens", minLen, maxLen)
		return NewAuthError(ErrCodeInvalidUsername, msg, "username")
	}

	if minPw := p.GetMinPasswordLength(); len(creds.Password) < minPw {
		return NewAuthError(ErrCodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", minPw), "password")
	}
	if maxPw := p.GetMaxPasswordLength(); len(creds.Password) > maxPw {
		return NewAuthError(ErrCodeWeakPassword, fmt.Sprintf("Password must be at most %d bytes", maxPw), "password")
	}
	return nil
}
