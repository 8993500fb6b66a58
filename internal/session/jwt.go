// Package session validates the optional upgrade-time bearer token that
// drives session-login: a JWT whose subject names a catalog account, with
// its HMAC signing method verified explicitly before trusting any claim, to
// reject algorithm-substitution attacks.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a session token can fail validation:
// bad signature, wrong algorithm, or expiry.
var ErrInvalidToken = errors.New("session: invalid token")

// Claims is the claim set a session-login token carries: standard
// registered claims only, with Subject naming the account whose "own" agent
// session-login resolves and attaches (catalog.AccountByName followed by
// catalog.SpaceAgentOf), mirroring the original's account-name session.
type Claims struct {
	jwt.RegisteredClaims
}

// AccountName returns the account name the token authenticates, i.e. its
// subject claim.
func (c *Claims) AccountName() string {
	return c.Subject
}

// Manager issues and validates session tokens with a single HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager builds a Manager. An empty secret disables session-login
// entirely; callers should check for that before wiring the upgrade route
// to look for a session token at all.
func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether a secret was configured.
func (m *Manager) Enabled() bool {
	return len(m.secret) > 0
}

// IssueToken creates a session token whose subject is accountName.
func (m *Manager) IssueToken(accountName string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "zenceliumd",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and verifies a session token, rejecting anything
// not signed with HMAC before it ever inspects claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
