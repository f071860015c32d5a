package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signToken(t *testing.T, secret string, uid string, username string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":      uid,
		"username": username,
		"role":     "member",
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifier_Verify(t *testing.T) {
	secret := "test-secret"
	userID := uuid.New()
	valid := signToken(t, secret, userID.String(), "alice", time.Minute)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", valid, false},
		{"empty token", "", true},
		{"garbage token", "not.a.token", true},
		{"wrong secret", signToken(t, "other-secret", userID.String(), "alice", time.Minute), true},
		{"expired token", signToken(t, secret, userID.String(), "alice", -time.Minute), true},
		{"non-uuid uid", signToken(t, secret, "42", "alice", time.Minute), true},
	}

	v := NewVerifier(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Verify(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if id.UserID != userID {
					t.Errorf("UserID = %v, want %v", id.UserID, userID)
				}
				if id.Username != "alice" {
					t.Errorf("Username = %q, want alice", id.Username)
				}
			}
		})
	}
}

func TestVerifier_RejectsUnsignedAlg(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"uid": uuid.New().String(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := NewVerifier("secret").Verify(signed); err == nil {
		t.Error("Verify() should reject alg=none tokens")
	}
}
