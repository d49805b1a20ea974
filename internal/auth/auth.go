// Package auth verifies gateway bearer tokens and mints new ones from a
// third-party identity credential. Verification is purely cryptographic and
// stateless: no caching, no revocation list.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrNoEmailClaim     = errors.New("token has no email claim")
	ErrDomainNotAllowed = errors.New("email domain not allowed")
)

// Identity is the verified caller.
type Identity struct {
	Email string
}

// Claims is the gateway token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Authenticate verifies the Authorization header value against the shared
// secret and extracts the caller's identity.
func Authenticate(authorization, secret string) (Identity, error) {
	raw := strings.TrimSpace(authorization)
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer"))
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Email == "" {
		return Identity{}, ErrNoEmailClaim
	}

	return Identity{Email: claims.Email}, nil
}

// Mint signs a gateway token for email. Only an issued-at claim is set; the
// token does not expire on its own.
func Mint(email, secret string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(jwt.TimeFunc()),
		},
		Email: email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Exchange turns a third-party identity credential (an ID-token JWT carrying
// an email claim) into a gateway token. The credential's own signature is the
// identity provider's concern and is not re-verified here; the email domain
// must be on the allow-list.
func Exchange(credential, secret string, allowedDomains []string) (token, email string, err error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return "", "", ErrInvalidToken
	}
	if claims.Email == "" {
		return "", "", ErrNoEmailClaim
	}
	if !domainAllowed(claims.Email, allowedDomains) {
		return "", "", ErrDomainNotAllowed
	}

	signed, err := Mint(claims.Email, secret)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.Email, nil
}

// An empty allow-list permits every domain.
func domainAllowed(email string, allowedDomains []string) bool {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return false
	}
	if len(allowedDomains) == 0 {
		return true
	}
	for _, allowed := range allowedDomains {
		if strings.EqualFold(domain, allowed) {
			return true
		}
	}
	return false
}
