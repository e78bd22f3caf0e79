// Package credentials manages authentication material for the computor
// backend: named credential profiles persisted through a host secret vault,
// and token lifecycle helpers (expiry parsing, validity checks, secure token
// generation).
package credentials

import (
	"errors"
	"time"
)

// Type classifies the authentication material held by a profile.
type Type string

const (
	TypeToken Type = "token"
	TypeJWT   Type = "jwt"
	TypeOAuth Type = "oauth"
)

var (
	// ErrNotFound is returned when no credentials exist under a profile.
	ErrNotFound = errors.New("credentials: profile not found")

	// ErrTokenExpired is returned by RetrieveValidToken when a profile
	// exists but its expiry has passed. Callers branch on this to refresh
	// instead of treating the token as absent.
	ErrTokenExpired = errors.New("credentials: token expired")
)

// Credentials is one named record of authentication material. Profile names
// are unique; saving under an existing name overwrites.
type Credentials struct {
	Profile      string    `json:"profile"`
	Type         Type      `json:"type"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the record's expiry has passed. Records without an
// expiry never expire.
func (c Credentials) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether the record expires inside the given buffer.
// Records without an expiry never do.
func (c Credentials) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(buffer).Before(c.ExpiresAt)
}

// ProfileInfo is the listing shape returned for diagnostics: the profile name
// and credential type, never the material itself.
type ProfileInfo struct {
	Profile string `json:"profile"`
	Type    Type   `json:"type"`
}
