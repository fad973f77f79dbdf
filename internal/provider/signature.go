package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"activity_ingest/internal/domain"
)

// SignHMACSHA256 returns the hex HMAC-SHA256 of body under secret.
func SignHMACSHA256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 compares signatureHex with the expected digest in constant time.
func VerifyHMACSHA256(secret string, body []byte, signatureHex string) error {
	if secret == "" || signatureHex == "" {
		return fmt.Errorf("%w: missing secret or signature", domain.ErrInvalidSignature)
	}
	got, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", domain.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: digest mismatch", domain.ErrInvalidSignature)
	}
	return nil
}

// WebhookSecret picks the signing secret for an integration: its own configuration first,
// then the provider-wide secret, then the account id carried by the webhook URL.
func WebhookSecret(integration *domain.Integration, global string) string {
	if v := integration.ConfigString("webhook_secret"); v != "" {
		return v
	}
	if global != "" {
		return global
	}
	if integration.AccountID != nil {
		return *integration.AccountID
	}
	return ""
}
