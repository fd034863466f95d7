package config

import (
	"encoding/json"
	"fmt"
	"os"

	"tgqqbridge/internal/constants"
	"tgqqbridge/internal/models"
	"tgqqbridge/internal/validation"
)

var (
	ErrMissingBotToken   = models.ConfigError{Message: "missing telegram bot token"}
	ErrMissingChatID     = models.ConfigError{Message: "missing telegram chat id"}
	ErrMissingGatewayURL = models.ConfigError{Message: "missing qq gateway url"}
	ErrMissingGroupID    = models.ConfigError{Message: "missing qq group id"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
)

// minRetentionHours is the floor for mapping retention. Both platforms
// allow recalls up to 48 hours back; shorter retention silently breaks
// delete propagation.
const minRetentionHours = 48

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Telegram.BotToken == "" {
		return ErrMissingBotToken
	}
	if c.Telegram.ChatID == "" {
		return ErrMissingChatID
	}
	if c.QQ.GatewayURL == "" {
		return ErrMissingGatewayURL
	}
	if c.QQ.GroupID == "" {
		return ErrMissingGroupID
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if err := validation.ValidateTelegramChatID(c.Telegram.ChatID); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid telegram chat ID: %v", err)}
	}
	if err := validation.ValidateQQGroupID(c.QQ.GroupID); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid qq group ID: %v", err)}
	}

	if c.Sync.FilterPrefix == "" {
		c.Sync.FilterPrefix = constants.DefaultFilterPrefix
	}
	if c.Sync.ReplyTemplate == "" {
		c.Sync.ReplyTemplate = constants.DefaultReplyTemplate
	}
	if c.Sync.MaxMessageLength <= 0 {
		c.Sync.MaxMessageLength = constants.DefaultMaxMessageLength
	}
	if c.Sync.DedupTTLSec <= 0 {
		c.Sync.DedupTTLSec = constants.DefaultDedupTTLSec
	}
	if c.Sync.CooldownTimeSec < 0 {
		c.Sync.CooldownTimeSec = constants.DefaultCooldownTimeSec
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Retry.BaseDelaySec <= 0 {
		c.Retry.BaseDelaySec = constants.DefaultBaseDelaySec
	}
	if c.Retry.MaxDelaySec <= 0 {
		c.Retry.MaxDelaySec = constants.DefaultMaxDelaySec
	}
	if c.Retry.Workers <= 0 {
		c.Retry.Workers = constants.DefaultRetryWorkers
	}
	if c.Retry.BaseDelaySec > c.Retry.MaxDelaySec {
		return models.ConfigError{Message: "retry base delay exceeds max delay"}
	}

	if c.RetentionHours <= 0 {
		c.RetentionHours = constants.DefaultRetentionHours
	}
	if c.RetentionHours < minRetentionHours {
		return models.ConfigError{Message: fmt.Sprintf("retention must be at least %dh to cover the recall window", minRetentionHours)}
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Telegram.TimeoutSec <= 0 {
		c.Telegram.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.QQ.TimeoutSec <= 0 {
		c.QQ.TimeoutSec = constants.DefaultGatewayCallTimeoutSec
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

// applyEnvironmentOverrides lets deployment environments inject secrets and
// endpoints without editing the config file.
func applyEnvironmentOverrides(c *models.Config) {
	if token := os.Getenv("TGQQ_TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if chatID := os.Getenv("TGQQ_TELEGRAM_CHAT_ID"); chatID != "" {
		c.Telegram.ChatID = chatID
	}
	if url := os.Getenv("TGQQ_TELEGRAM_API_URL"); url != "" {
		c.Telegram.APIBaseURL = url
	}
	if url := os.Getenv("TGQQ_QQ_GATEWAY_URL"); url != "" {
		c.QQ.GatewayURL = url
	}
	if token := os.Getenv("TGQQ_QQ_ACCESS_TOKEN"); token != "" {
		c.QQ.AccessToken = token
	}
	if groupID := os.Getenv("TGQQ_QQ_GROUP_ID"); groupID != "" {
		c.QQ.GroupID = groupID
	}
	if path := os.Getenv("TGQQ_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("TGQQ_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
