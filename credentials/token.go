package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSecureTokenLength is the length GenerateSecureToken falls back to.
const DefaultSecureTokenLength = 32

// ParseJWTExpiration reads the exp claim from a JWT's payload segment without
// verifying the signature. Returns false for malformed tokens (fewer than
// three segments, undecodable payload) and for tokens without an exp claim.
func ParseJWTExpiration(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// GenerateSecureToken returns a cryptographically random URL-safe string of
// exactly the requested length, suitable for one-time setup tokens and OAuth
// state values. Non-positive lengths fall back to DefaultSecureTokenLength.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		length = DefaultSecureTokenLength
	}

	// Base64 expands 3 bytes into 4 characters, so over-provision and trim.
	buf := make([]byte, (length*3+3)/4+3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credentials: generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf)[:length], nil
}
