package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-secret"

func TestAuthenticate_RoundTrip(t *testing.T) {
	token, err := Mint("user@example.com", testSecret)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	ident, err := Authenticate("Bearer "+token, testSecret)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if ident.Email != "user@example.com" {
		t.Errorf("Expected user@example.com, got %s", ident.Email)
	}
}

func TestAuthenticate_MissingToken(t *testing.T) {
	for _, header := range []string{"", "Bearer", "Bearer   ", "   "} {
		_, err := Authenticate(header, testSecret)
		if !errors.Is(err, ErrMissingToken) {
			t.Errorf("Header %q: expected ErrMissingToken, got %v", header, err)
		}
	}
}

func TestAuthenticate_WrongSecret(t *testing.T) {
	token, _ := Mint("user@example.com", "other-secret")

	_, err := Authenticate("Bearer "+token, testSecret)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticate_Malformed(t *testing.T) {
	_, err := Authenticate("Bearer not.a.jwt", testSecret)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticate_NoEmailClaim(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt: jwt.NewNumericDate(jwt.TimeFunc()),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err = Authenticate("Bearer "+signed, testSecret)
	if !errors.Is(err, ErrNoEmailClaim) {
		t.Errorf("Expected ErrNoEmailClaim, got %v", err)
	}
}

func TestExchange_AllowedDomain(t *testing.T) {
	credential := unverifiedCredential(t, "person@corp.example")

	token, email, err := Exchange(credential, testSecret, []string{"corp.example"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if email != "person@corp.example" {
		t.Errorf("Expected person@corp.example, got %s", email)
	}

	// The minted token must authenticate against the gateway secret.
	ident, err := Authenticate("Bearer "+token, testSecret)
	if err != nil {
		t.Fatalf("Minted token did not verify: %v", err)
	}
	if ident.Email != "person@corp.example" {
		t.Errorf("Expected identity person@corp.example, got %s", ident.Email)
	}
}

func TestExchange_EmptyAllowListPermitsAnyDomain(t *testing.T) {
	credential := unverifiedCredential(t, "person@elsewhere.example")

	_, email, err := Exchange(credential, testSecret, nil)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if email != "person@elsewhere.example" {
		t.Errorf("Expected person@elsewhere.example, got %s", email)
	}
}

func TestExchange_DomainNotAllowed(t *testing.T) {
	credential := unverifiedCredential(t, "person@elsewhere.example")

	_, _, err := Exchange(credential, testSecret, []string{"corp.example"})
	if !errors.Is(err, ErrDomainNotAllowed) {
		t.Errorf("Expected ErrDomainNotAllowed, got %v", err)
	}
}

func TestExchange_MalformedCredential(t *testing.T) {
	_, _, err := Exchange("garbage", testSecret, []string{"corp.example"})
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

// unverifiedCredential fakes an identity provider's ID token; only the email
// claim matters to Exchange.
func unverifiedCredential(t *testing.T, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Email: email})
	signed, err := token.SignedString([]byte("identity-provider-secret"))
	if err != nil {
		t.Fatalf("Sign credential failed: %v", err)
	}
	return signed
}
