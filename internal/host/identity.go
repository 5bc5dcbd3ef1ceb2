// Package host models the chat-platform host bridge: the player identity
// the host vouches for and the haptic feedback channel back to the device.
package host

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token cannot be verified.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity is the player identity supplied by the chat host.
type Identity struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// Key is the stable string form of the identity used for storage keys.
func (i Identity) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

// Claims are the JWT claims carried by a player token. The subject holds
// the numeric host user ID.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// TokenManager mints and verifies HS256 player tokens.
type TokenManager struct {
	mu     sync.RWMutex
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenManager creates a TokenManager. A zero ttl defaults to 24 hours.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Mint issues a token for id. A zero ttl uses the manager's default.
func (m *TokenManager) Mint(id Identity, ttl time.Duration) (string, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ttl <= 0 {
		ttl = m.ttl
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.Key(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name: id.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a token, returning the identity it carries.
func (m *TokenManager) Verify(raw string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}
	return Identity{ID: id, Name: claims.Name}, nil
}
