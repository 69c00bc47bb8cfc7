package handlers_test

import (
	"strings"
	"testing"

	"voting-oracle/internal/config"
	"voting-oracle/internal/handlers"
)

func setAuthConfig(t *testing.T, secret string) {
	t.Helper()
	config.AppConfig = &config.Config{Auth: config.AuthConfig{JWTSecret: secret, TokenTTL: 1}}
	t.Cleanup(func() { config.AppConfig = nil })
}

func TestTokenRoundTrip(t *testing.T) {
	setAuthConfig(t, "test-secret")

	token, err := handlers.GenerateToken("0x1234567890ABCDEF1234567890abcdef12345678")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := handlers.ValidateJWTToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	// The wallet is stored normalized so the handler's equality check works.
	if claims.WalletAddress != strings.ToLower("0x1234567890ABCDEF1234567890abcdef12345678") {
		t.Fatalf("wallet = %s, want lowercase form", claims.WalletAddress)
	}
	if claims.Issuer != "voting-oracle" {
		t.Fatalf("issuer = %s", claims.Issuer)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	setAuthConfig(t, "first-secret")
	token, err := handlers.GenerateToken("0x1234567890abcdef1234567890abcdef12345678")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	config.AppConfig.Auth.JWTSecret = "other-secret"
	if _, err := handlers.ValidateJWTToken(token); err == nil {
		t.Fatal("token signed with a different secret should be rejected")
	}
}

func TestTokenRequiresConfiguredSecret(t *testing.T) {
	setAuthConfig(t, "")

	if _, err := handlers.GenerateToken("0x1234567890abcdef1234567890abcdef12345678"); err == nil {
		t.Fatal("generation without a secret should fail")
	}
	if _, err := handlers.ValidateJWTToken("anything"); err == nil {
		t.Fatal("validation without a secret should fail")
	}
}
