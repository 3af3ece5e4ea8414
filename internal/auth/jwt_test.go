package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	v := NewValidator("test-secret")

	token, err := v.GenerateToken("user-42", "sk-override", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := v.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "user-42" {
		t.Errorf("UserID = %q, want user-42", claims.UserID)
	}
	if claims.VendorAPIKey != "sk-override" {
		t.Errorf("VendorAPIKey = %q, want sk-override", claims.VendorAPIKey)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := NewValidator("secret-a").GenerateToken("user-1", "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := NewValidator("secret-b").ValidateToken(token); err == nil {
		t.Error("ValidateToken() accepted a token signed with another secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	v := NewValidator("test-secret")
	token, err := v.GenerateToken("user-1", "", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := v.ValidateToken(token); err == nil {
		t.Error("ValidateToken() accepted an expired token")
	}
}

func TestEnabled(t *testing.T) {
	if NewValidator("").Enabled() {
		t.Error("Enabled() = true with empty secret")
	}
	if !NewValidator("s").Enabled() {
		t.Error("Enabled() = false with a secret")
	}
}
