package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	t.Parallel()
	v, err := NewJWTVerifier("test-secret", "viralforge-auth")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := v.Sign("user_1", "Admin", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user_1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTVerifierRejectsBadTokens(t *testing.T) {
	t.Parallel()
	v, _ := NewJWTVerifier("test-secret", "viralforge-auth")
	other, _ := NewJWTVerifier("other-secret", "viralforge-auth")
	wrongIssuer, _ := NewJWTVerifier("test-secret", "someone-else")

	foreign, _ := other.Sign("user_1", "affiliate", time.Hour)
	expired, _ := v.Sign("user_1", "affiliate", -time.Hour)
	misissued, _ := wrongIssuer.Sign("user_1", "affiliate", time.Hour)
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user_1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, raw := range map[string]string{
		"wrong secret": foreign,
		"expired":      expired,
		"wrong issuer": misissued,
		"alg none":     unsigned,
		"garbage":      "not-a-token",
	} {
		if _, err := v.Verify(raw); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestWebhookVerifier(t *testing.T) {
	t.Parallel()
	v, err := NewWebhookVerifier("whsec", 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	body := []byte(`{"order_id":"ord_1"}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	header := v.Sign(body, now)

	if err := v.Verify(header, body, now.Add(299*time.Second)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	cases := map[string]struct {
		header string
		body   []byte
		at     time.Time
	}{
		"tampered body":  {header, []byte(`{"order_id":"ord_2"}`), now},
		"outside window": {header, body, now.Add(301 * time.Second)},
		"missing v1":     {"t=1772366400", body, now},
		"empty":          {"", body, now},
		"bad hex":        {"t=1772366400,v1=zz", body, now},
	}
	for name, tc := range cases {
		if err := v.Verify(tc.header, tc.body, tc.at); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}
	rotated := header + ",v1=deadbeef"
	if err := v.Verify(rotated, body, now); err != nil {
		t.Fatalf("extra v1 entries must not invalidate a good one: %v", err)
	}
}
