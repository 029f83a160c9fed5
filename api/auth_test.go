package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func testModeAuth(t *testing.T, secret string) *Auth {
	t.Helper()
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, secret)
	return NewAuth(nil, "corkboard", "https://issuer.test/")
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer aa.bb.cc", want: "aa.bb.cc"},
		{name: "caseInsensitive", header: "bearer aa.bb.cc", want: "aa.bb.cc"},
		{name: "empty", header: "", wantErr: true},
		{name: "noScheme", header: "aa.bb.cc", wantErr: true},
		{name: "wrongScheme", header: "Basic aa.bb.cc", wantErr: true},
		{name: "notAJWT", header: "Bearer opaque", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.header)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserIDFromAuthHeaderTestMode(t *testing.T) {
	a := testModeAuth(t, "shared-secret")
	token := signHS256(t, "shared-secret", jwt.MapClaims{
		"sub": "user-1",
		"aud": "corkboard",
		"iss": "https://issuer.test/",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	got, err := a.UserIDFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user-1" {
		t.Fatalf("user id = %q, want user-1", got)
	}
}

func TestUserIDFromAuthHeaderWrongSecret(t *testing.T) {
	a := testModeAuth(t, "shared-secret")
	token := signHS256(t, "other-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestUserIDFromAuthHeaderExpired(t *testing.T) {
	a := testModeAuth(t, "shared-secret")
	token := signHS256(t, "shared-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-2 * time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestUserIDFromAuthHeaderWrongAudience(t *testing.T) {
	a := testModeAuth(t, "shared-secret")
	token := signHS256(t, "shared-secret", jwt.MapClaims{
		"sub": "user-1",
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected error for wrong audience")
	}
}

func TestUserIDFromAuthHeaderMissingSub(t *testing.T) {
	a := testModeAuth(t, "shared-secret")
	token := signHS256(t, "shared-secret", jwt.MapClaims{
		"aud": "corkboard",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected error for missing sub")
	}
}
