package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/auth"
)

const secret = "test-secret"

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	v := auth.NewJWTVerifier(secret)

	identity, err := v.Verify(signToken(t, secret, "user-42"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UserID != "user-42" {
		t.Errorf("expected user-42, got %s", identity.UserID)
	}
}

func TestJWTVerifier_RejectsBadInput(t *testing.T) {
	v := auth.NewJWTVerifier(secret)

	cases := []struct {
		name       string
		credential string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", signToken(t, "other-secret", "user-42")},
		{"missing subject", signToken(t, secret, "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.credential); !errors.Is(err, auth.ErrInvalidCredential) {
				t.Errorf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}
}

func TestJWTVerifier_RejectsExpiredToken(t *testing.T) {
	v := auth.NewJWTVerifier(secret)

	claims := jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential for expired token, got %v", err)
	}
}
