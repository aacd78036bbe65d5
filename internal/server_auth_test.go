package internal

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, expiresAt, err := issuer.Issue("user-1", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiry %v should be in the future", expiresAt)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("secret", time.Hour)
	issuer.now = func() time.Time { return issued }
	token, _, err := issuer.Issue("user-1", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	issuer.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if _, err := issuer.Parse(token); !errors.Is(err, errUnauthorized) {
		t.Fatalf("expired token should be unauthorized, got %v", err)
	}

	other := NewTokenIssuer("another-secret", time.Hour)
	other.now = func() time.Time { return issued }
	if _, err := other.Parse(token); !errors.Is(err, errUnauthorized) {
		t.Fatalf("token signed with another secret should be unauthorized, got %v", err)
	}
	if _, err := other.Parse("not.a.token"); !errors.Is(err, errUnauthorized) {
		t.Fatalf("garbage should be unauthorized, got %v", err)
	}
}
