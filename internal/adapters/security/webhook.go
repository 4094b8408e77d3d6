package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

const (
	PaymentSignatureHeader  = "Payment-Signature"
	defaultWebhookTolerance = 300 * time.Second
)

// WebhookVerifier checks `t=<unix>,v1=<hex>` signatures, where v1 is
// HMAC-SHA256 over "<t>.<raw body>".
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
}

func NewWebhookVerifier(secret string, tolerance time.Duration) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance}, nil
}

func (v *WebhookVerifier) Verify(header string, body []byte, receivedAt time.Time) error {
	timestamp, signatures := parseSignatureHeader(header)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || ts <= 0 || len(signatures) == 0 {
		return domain.ErrInvalidSignature
	}
	skew := receivedAt.UTC().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return domain.ErrInvalidSignature
	}
	expected := v.mac(timestamp, body)
	for _, sigHex := range signatures {
		decoded, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// Sign builds a header value for body at the given time.
func (v *WebhookVerifier) Sign(body []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.UTC().Unix(), 10)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(v.mac(timestamp, body))
}

func (v *WebhookVerifier) mac(timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (string, []string) {
	var t string
	v1 := make([]string, 0, 2)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch {
		case key == "t" && t == "":
			t = val
		case key == "v1" && val != "":
			v1 = append(v1, val)
		}
	}
	return t, v1
}
