package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
)

// WebhookVerifier checks the base64 HMAC-SHA256 signature the platform
// attaches to each webhook delivery
type WebhookVerifier struct {
	secret []byte
}

// NewWebhookVerifier creates a verifier for the shared webhook secret
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

// Sign returns the base64 signature of body
func (v *WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify compares signature against the raw body in constant time.
// An empty secret rejects every delivery.
func (v *WebhookVerifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrAuthentication)
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("%w: missing signature", domain.ErrAuthentication)
	}

	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", domain.ErrAuthentication)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrAuthentication)
	}
	return nil
}
