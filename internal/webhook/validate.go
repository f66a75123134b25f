package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// All validators fail closed: an endpoint configured without a secret
// rejects every request.

// ValidateGitHubSignature checks a GitHub X-Hub-Signature-256 header
// ("sha256=" + HMAC-SHA256 hex digest of the body).
func ValidateGitHubSignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidateSentrySignature checks a sentry-hook-signature header (bare
// HMAC-SHA256 hex digest of the body).
func ValidateSentrySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidateGenericSecret compares a shared secret in constant time.
func ValidateGenericSecret(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(provided), []byte(configured))
}
