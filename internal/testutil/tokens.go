package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/auth"
)

// TestJWTSecret signs every token produced by this package.
const TestJWTSecret = "test-secret-do-not-use-in-production"

// NewTestAuthority returns a token authority keyed with TestJWTSecret.
func NewTestAuthority(t *testing.T) *auth.TokenAuthority {
	t.Helper()
	a, err := auth.NewTokenAuthority(auth.Config{Secret: TestJWTSecret})
	if err != nil {
		t.Fatalf("Failed to create token authority: %v", err)
	}
	return a
}

// GenerateTestToken signs a token for adminID and orgID that is valid for an hour.
func GenerateTestToken(t *testing.T, adminID, orgID string) string {
	t.Helper()
	token, err := NewTestAuthority(t).Issue(adminID, orgID, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// GenerateExpiredToken signs a token whose exp is already in the past.
func GenerateExpiredToken(t *testing.T, adminID, orgID string) string {
	t.Helper()
	now := time.Now()
	claims := auth.Claims{
		AdminID: adminID,
		OrgID:   orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TestJWTSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}
