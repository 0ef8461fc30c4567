package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coyapp/coy-server/internal/config"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:   "test-secret",
		JWTIssuer:   "coy",
		JWTAudience: "coy-users",
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-123",
		"iss": "coy",
		"aud": "coy-users",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func TestValidateAccessToken_Valid(t *testing.T) {
	svc := NewService(testConfig())
	token := signToken(t, "test-secret", validClaims())

	userID, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if userID != "user-123" {
		t.Errorf("userID = %q, want %q", userID, "user-123")
	}
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	svc := NewService(testConfig())
	token := signToken(t, "other-secret", validClaims())

	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Error("expected error for token signed with wrong secret")
	}
}

func TestValidateAccessToken_Expired(t *testing.T) {
	svc := NewService(testConfig())
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	token := signToken(t, "test-secret", claims)

	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestValidateAccessToken_WrongIssuer(t *testing.T) {
	svc := NewService(testConfig())
	claims := validClaims()
	claims["iss"] = "someone-else"
	token := signToken(t, "test-secret", claims)

	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Error("expected error for wrong issuer")
	}
}

func TestValidateAccessToken_MissingSubject(t *testing.T) {
	svc := NewService(testConfig())
	claims := validClaims()
	delete(claims, "sub")
	token := signToken(t, "test-secret", claims)

	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Error("expected error for missing subject")
	}
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	svc := NewService(testConfig())

	if _, err := svc.ValidateAccessToken("not-a-token"); err == nil {
		t.Error("expected error for malformed token")
	}
}
