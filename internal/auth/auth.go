// Package auth issues and checks the credentials accepted by the HTTP API:
// bcrypt-hashed API keys bound to an owner, and short-lived HS256 JWTs.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/config"
)

const (
	tokenBytes  = 32
	tokenPrefix = "cv_"
	bcryptCost  = 12
	prefixLen   = 8 // chars of base64url used as O(1) lookup prefix
)

var ErrUnauthorized = errors.New("auth: invalid credentials")

// GenerateAPIKey returns (plaintext, bcryptHash, lookupPrefix, error).
// The plaintext is shown to the operator exactly once; only the hash is
// written to configuration.
func GenerateAPIKey() (plaintext, hash, prefix string, err error) {
	b := make([]byte, tokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("auth: rand: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(b)
	if len(encoded) < prefixLen {
		return "", "", "", fmt.Errorf("auth: encoded key too short")
	}
	plaintext = tokenPrefix + encoded
	prefix = encoded[:prefixLen]
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("auth: bcrypt: %w", err)
	}
	return plaintext, string(hashBytes), prefix, nil
}

// ValidateAPIKey compares a plaintext key against a bcrypt hash.
func ValidateAPIKey(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// PrefixOf extracts the lookup prefix from a plaintext API key.
func PrefixOf(plaintext string) (string, error) {
	if !strings.HasPrefix(plaintext, tokenPrefix) {
		return "", fmt.Errorf("auth: invalid key format")
	}
	body := plaintext[len(tokenPrefix):]
	if len(body) < prefixLen {
		return "", fmt.Errorf("auth: key too short")
	}
	return body[:prefixLen], nil
}

// Keyring resolves API keys to owners. Keys are indexed by lookup prefix so
// only one bcrypt comparison runs per request.
type Keyring struct {
	byPrefix map[string][]config.APIKeyConfig
}

func NewKeyring(keys []config.APIKeyConfig) *Keyring {
	k := &Keyring{byPrefix: make(map[string][]config.APIKeyConfig, len(keys))}
	for _, key := range keys {
		k.byPrefix[key.Prefix] = append(k.byPrefix[key.Prefix], key)
	}
	return k
}

func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	n := 0
	for _, keys := range k.byPrefix {
		n += len(keys)
	}
	return n
}

// Authenticate returns the owner bound to plaintext.
func (k *Keyring) Authenticate(plaintext string) (string, error) {
	if k == nil {
		return "", ErrUnauthorized
	}
	prefix, err := PrefixOf(plaintext)
	if err != nil {
		return "", ErrUnauthorized
	}
	for _, key := range k.byPrefix[prefix] {
		if ValidateAPIKey(plaintext, key.Hash) {
			return key.Owner, nil
		}
	}
	return "", ErrUnauthorized
}

// Claims is the JWT payload. Owner becomes the owner of media registered
// with the token.
type Claims struct {
	Owner string `json:"owner"`
	jwt.RegisteredClaims
}

// IssueJWT signs a short-lived JWT for owner.
func IssueJWT(secret, owner string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth: jwt secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		Owner: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   owner,
			Issuer:    "chainverify",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyJWT validates a JWT and returns the claims.
func VerifyJWT(secret, tokenStr string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: jwt verify: %w", err)
	}
	if claims.Owner == "" {
		return nil, fmt.Errorf("auth: jwt verify: token has no owner")
	}
	return &claims, nil
}
