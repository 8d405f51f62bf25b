package push

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestProviderToken_SignsWithKeyIdentity(t *testing.T) {
	key, pemKey := testSigningKey(t)

	source, err := newProviderToken(pemKey, "KEYID12345", "TEAMID6789")
	if err != nil {
		t.Fatalf("newProviderToken failed: %v", err)
	}

	bearer, err := source.current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}

	parsed, err := jwt.Parse(bearer, func(token *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}

	if kid := parsed.Header["kid"]; kid != "KEYID12345" {
		t.Errorf("kid = %v, want KEYID12345", kid)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if iss := claims["iss"]; iss != "TEAMID6789" {
		t.Errorf("iss = %v, want TEAMID6789", iss)
	}
	if _, present := claims["iat"]; !present {
		t.Error("token should carry an issued-at claim")
	}
}

// TestProviderToken_Cached verifies one credential is shared across sends
// rather than minted per call.
func TestProviderToken_Cached(t *testing.T) {
	_, pemKey := testSigningKey(t)

	source, err := newProviderToken(pemKey, "K", "T")
	if err != nil {
		t.Fatalf("newProviderToken failed: %v", err)
	}

	first, err := source.current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	second, err := source.current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if first != second {
		t.Error("expected the cached credential on the second call")
	}
}

// TestProviderToken_RefreshesNearExpiry verifies a stale credential is
// replaced before the gateway's 60-minute ceiling.
func TestProviderToken_RefreshesNearExpiry(t *testing.T) {
	_, pemKey := testSigningKey(t)

	source, err := newProviderToken(pemKey, "K", "T")
	if err != nil {
		t.Fatalf("newProviderToken failed: %v", err)
	}

	first, err := source.current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}

	// age the cached token past the refresh horizon
	source.mu.Lock()
	source.issuedAt = time.Now().Add(-(tokenLifetime + time.Minute))
	source.mu.Unlock()

	refreshed, err := source.current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if refreshed == first {
		t.Error("expected a fresh credential once the cached one aged out")
	}
}

func TestNewProviderToken_BadKey(t *testing.T) {
	if _, err := newProviderToken([]byte("-----BEGIN NOPE-----"), "K", "T"); err == nil {
		t.Error("expected error for unparsable key")
	}
}
