// Package token issues and verifies the signed tokens handed out on domain
// registration. Tokens are HS256 JWTs over the broker's shared secret, so a
// federated broker holding the same secret can verify a peer-issued token
// without a callback.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuerName = "relay"

// DefaultTTL bounds a registration token's lifetime unless configured
// otherwise.
const DefaultTTL = 24 * time.Hour

// ErrDomainMismatch is returned when a token is valid but was issued for a
// different domain.
var ErrDomainMismatch = errors.New("token: domain mismatch")

// Claims carried by a registration token.
type Claims struct {
	Domain string `json:"domain"`
	jwt.RegisteredClaims
}

// Issued describes a token handed out by Issue.
type Issued struct {
	Token     string
	ID        string
	Domain    string
	ExpiresAt time.Time
}

// Issuer signs and verifies registration tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an issuer for the given shared secret. A non-positive ttl
// falls back to DefaultTTL.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue signs a new token for the domain.
func (i *Issuer) Issue(domain string) (Issued, error) {
	now := time.Now().UTC()
	jti := uuid.NewString()
	expires := now.Add(i.ttl)
	claims := Claims{
		Domain: domain,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   domain,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("token: sign: %w", err)
	}
	return Issued{Token: signed, ID: jti, Domain: domain, ExpiresAt: expires}, nil
}

// Verify parses and validates a token. When domain is non-empty the token
// must have been issued for exactly that domain.
func (i *Issuer) Verify(tokenStr, domain string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuerName))
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("token: invalid")
	}
	if domain != "" && claims.Domain != domain {
		return nil, ErrDomainMismatch
	}
	return claims, nil
}
