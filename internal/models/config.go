package models

// Config holds the application configuration.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	QQ       QQConfig       `json:"qq"`
	Database DatabaseConfig `json:"database"`
	Sync     SyncConfig     `json:"sync"`
	Retry    RetryConfig    `json:"retry"`
	Media    MediaConfig    `json:"media"`
	Tracing  TracingConfig  `json:"tracing"`
	Server   ServerConfig   `json:"server"`
	LogLevel string         `json:"log_level"`

	// RetentionHours bounds mapping store growth. Must exceed the platform
	// recall windows (48h) or delete propagation silently breaks.
	RetentionHours int `json:"retentionHours"`
}

// TelegramConfig holds the bot API endpoint settings.
type TelegramConfig struct {
	APIBaseURL string `json:"api_base_url"`
	BotToken   string `json:"bot_token"`
	ChatID     string `json:"chat_id"`
	TimeoutSec int    `json:"timeout_sec"`
}

// QQConfig holds the OneBot gateway settings.
type QQConfig struct {
	GatewayURL  string `json:"gateway_url"`
	AccessToken string `json:"access_token"`
	GroupID     string `json:"group_id"`
	TimeoutSec  int    `json:"timeout_sec"`
}

// DatabaseConfig holds database related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SyncConfig controls the message routing pipeline.
type SyncConfig struct {
	FilterPrefix     string   `json:"filter_prefix"`
	FilterKeywords   []string `json:"filter_keywords"`
	CooldownTimeSec  int      `json:"cooldown_time"`
	ReplyTemplate    string   `json:"reply_format_template"`
	MaxMessageLength int      `json:"max_message_length"`
	DedupTTLSec      int      `json:"dedup_ttl_sec"`
}

// RetryConfig holds the delivery retry policy.
type RetryConfig struct {
	MaxAttempts  int `json:"max_retries"`
	BaseDelaySec int `json:"base_delay"`
	MaxDelaySec  int `json:"max_delay"`
	Workers      int `json:"workers"`
}

// MediaConfig bounds the media passthrough the adapters perform.
type MediaConfig struct {
	MaxFileSizeMB     int `json:"media_max_file_size"`
	TempRetentionHour int `json:"media_temp_retention"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	ServiceName  string  `json:"service_name"`
	Environment  string  `json:"environment"`
	OTLPEndpoint string  `json:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate"`
	UseStdout    bool    `json:"use_stdout"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Port int `json:"port"`
}

// ConfigError is returned for invalid configuration; it is fatal at startup.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
