package validation

import (
	"strings"
	"testing"

	"tgqqbridge/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidateMessageID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"numeric", "42", false},
		{"forward sub id", "703#2", false},
		{"empty", "", true},
		{"with space", "42 43", true},
		{"with newline", "42\n", true},
		{"too long", strings.Repeat("9", MaxIDLength+1), true},
		{"max length", strings.Repeat("9", MaxIDLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTelegramChatID(t *testing.T) {
	assert.NoError(t, ValidateTelegramChatID("12345"))
	assert.NoError(t, ValidateTelegramChatID("-100555"))
	assert.Error(t, ValidateTelegramChatID(""))
	assert.Error(t, ValidateTelegramChatID("-"))
	assert.Error(t, ValidateTelegramChatID("group@chat"))
	assert.Error(t, ValidateTelegramChatID("12-34"))
}

func TestValidateQQGroupID(t *testing.T) {
	assert.NoError(t, ValidateQQGroupID("12345"))
	assert.Error(t, ValidateQQGroupID(""))
	assert.Error(t, ValidateQQGroupID("-12345"))
	assert.Error(t, ValidateQQGroupID("abc"))
}

func TestValidatePlatform(t *testing.T) {
	assert.NoError(t, ValidatePlatform(models.PlatformTelegram))
	assert.NoError(t, ValidatePlatform(models.PlatformQQ))
	assert.Error(t, ValidatePlatform(models.Platform("discord")))
}
