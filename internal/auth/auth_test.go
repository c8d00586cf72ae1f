package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"saltapi/internal/identity"
)

func TestTokensSignAndVerify(t *testing.T) {
	tokens, err := NewTokens("test-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	signed, err := tokens.Sign(Claims{
		Username:         "jdoe",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42"},
	}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := tokens.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id, _ := claims.UserID(); id != 42 {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Username != "jdoe" || claims.Issuer != "test-issuer" || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokensRejectInvalid(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens, err := NewTokens("test-secret", WithTokenClock(clock))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	signed, err := tokens.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "7"}}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other, _ := NewTokens("other-secret", WithTokenClock(clock))
	if _, err := other.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	otherIssuer, _ := NewTokens("test-secret", WithIssuer("someone-else"), WithTokenClock(clock))
	if _, err := otherIssuer.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}

	later, _ := NewTokens("test-secret", WithTokenClock(func() time.Time { return now.Add(2 * time.Hour) }))
	if _, err := later.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	for _, raw := range []string{"", "abc", "a.b.c"} {
		if _, err := tokens.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}

	if _, err := tokens.Sign(Claims{}, time.Hour); err == nil {
		t.Fatalf("expected error for missing subject")
	}
	if _, err := tokens.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if _, err := NewTokens("  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestTokensRejectNonNumericSubject(t *testing.T) {
	tokens, _ := NewTokens("test-secret")
	signed, err := tokens.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "jdoe"}}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := tokens.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserFromContext(ctx); ok {
		t.Fatalf("unexpected user in empty context")
	}
	ctx = ContextWithUser(ctx, identity.User{ID: 7, Username: "jdoe"})
	ctx = ContextWithToken(ctx, "tok")
	u, ok := UserFromContext(ctx)
	if !ok || u.Username != "jdoe" {
		t.Fatalf("unexpected user: %+v, ok=%v", u, ok)
	}
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %q", tok)
	}
}
