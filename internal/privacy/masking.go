package privacy

import (
	"errors"
	"strings"
)

// MaskSecret hides a credential, keeping the last 4 characters so operators
// can tell configured secrets apart in logs.
// Example: "123456:ABC-xyz" -> "**********-xyz"
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

// MaskUserID masks a numeric platform user id for log output.
// Example: "1234567890" -> "******7890"
func MaskUserID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}

// Redact replaces every occurrence of secret in s with its masked form.
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, MaskSecret(secret))
}

// RedactError rewrites an error whose text may embed a secret, such as a
// transport error carrying a request URL with the bot token in the path.
// The original error chain is dropped on purpose: keeping the cause would
// keep the secret.
func RedactError(err error, secret string) error {
	if err == nil {
		return nil
	}
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return errors.New(Redact(err.Error(), secret))
}
