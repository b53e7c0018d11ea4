package server

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceClaims are the JWT claims of a ledger service token. Service
// tokens are credentials issued to platform subsystems that append over
// HTTP; the subject names the component the token is bound to.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Component string `json:"component"`
}

// TokenIssuer issues service tokens signed with EdDSA (ed25519). The auth
// keypair is managed separately from the ledger signing keypair so that
// revoking API access never invalidates recorded history.
type TokenIssuer struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer. issuer becomes the "iss" claim;
// ttl defaults to one hour.
func NewTokenIssuer(priv ed25519.PrivateKey, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		priv:   priv,
		pub:    priv.Public().(ed25519.PublicKey),
		issuer: issuer,
		ttl:    ttl,
	}
}

// Issue creates a signed service token bound to component.
func (t *TokenIssuer) Issue(component string) (string, error) {
	now := time.Now().UTC()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   component,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Component: component,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(t.priv)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// PublicKey returns the verification key for issued tokens.
func (t *TokenIssuer) PublicKey() ed25519.PublicKey { return t.pub }

// TokenVerifier validates service tokens against the auth public key.
type TokenVerifier struct {
	pub    ed25519.PublicKey
	issuer string
}

// NewTokenVerifier creates a TokenVerifier. An empty issuer skips the
// issuer check.
func NewTokenVerifier(pub ed25519.PublicKey, issuer string) *TokenVerifier {
	return &TokenVerifier{pub: pub, issuer: issuer}
}

// Verify parses and validates a service token, returning its claims.
func (t *TokenVerifier) Verify(tokenStr string) (*ServiceClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ServiceClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.pub, nil
		},
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("verify service token: %w", err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid service token claims")
	}
	return claims, nil
}
