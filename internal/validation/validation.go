package validation

import (
	"fmt"
	"strings"
	"unicode"

	apperrors "tgqqbridge/internal/errors"
	"tgqqbridge/internal/models"
)

const (
	// MaxIDLength bounds platform message and chat identifiers. Telegram
	// and OneBot ids are short numerics; the slack covers forward sub-ids.
	MaxIDLength = 255
)

// ValidateMessageID rejects empty, oversized or non-printable identifiers
// before they reach the mapping store.
func ValidateMessageID(id string) error {
	if id == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "message ID cannot be empty")
	}
	if len(id) > MaxIDLength {
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", MaxIDLength))
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "message ID contains whitespace or control characters")
		}
	}
	return nil
}

// ValidateTelegramChatID checks the numeric chat id format. Supergroup and
// channel ids carry a leading minus sign.
func ValidateTelegramChatID(chatID string) error {
	if chatID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "telegram chat ID cannot be empty")
	}

	digits := strings.TrimPrefix(chatID, "-")
	if digits == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "telegram chat ID must contain digits")
	}
	return validateDigits(digits, "telegram chat ID")
}

// ValidateQQGroupID checks the numeric group id format. Group ids are
// always positive.
func ValidateQQGroupID(groupID string) error {
	if groupID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "qq group ID cannot be empty")
	}
	return validateDigits(groupID, "qq group ID")
}

// ValidatePlatform checks that a platform name is one of the two bridged
// platforms. Stored tasks and mappings carry the platform as text, so a
// corrupted row surfaces here instead of at dispatch time.
func ValidatePlatform(p models.Platform) error {
	switch p {
	case models.PlatformTelegram, models.PlatformQQ:
		return nil
	default:
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown platform %q", p))
	}
}

func validateDigits(s, what string) error {
	if len(s) > MaxIDLength {
		return apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("%s too long", what))
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("%s must be numeric", what))
		}
	}
	return nil
}
