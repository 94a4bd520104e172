package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	magicLinkTokenBytes = 32
	refreshTokenBytes   = 48
)

// IssuedToken is a fresh secret plus the digest that gets persisted. Raw is
// only ever handed to the user.
type IssuedToken struct {
	Raw  string
	Hash string
}

// NewMagicLinkToken returns a URL-safe token for emailed login and
// verification links.
func NewMagicLinkToken() (IssuedToken, error) {
	return newIssuedToken(magicLinkTokenBytes)
}

func NewRefreshToken() (IssuedToken, error) {
	return newIssuedToken(refreshTokenBytes)
}

func newIssuedToken(size int) (IssuedToken, error) {
	buffer := make([]byte, size)
	if _, err := rand.Read(buffer); err != nil {
		return IssuedToken{}, err
	}
	raw := base64.RawURLEncoding.EncodeToString(buffer)
	return IssuedToken{Raw: raw, Hash: HashToken(raw)}, nil
}

// HashToken is the lookup key for a presented token: hex SHA-256, always 64
// characters.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail is the canonical form used for lookups, uniqueness and
// rate limiting.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
