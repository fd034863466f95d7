package constants

// Default retry policy values
const (
	DefaultMaxAttempts     = 5
	DefaultBaseDelaySec    = 1
	DefaultMaxDelaySec     = 300
	DefaultRetryWorkers    = 4
	DefaultRetryClaimLimit = 10
)

// Default sync pipeline values
const (
	DefaultFilterPrefix     = "!"
	DefaultCooldownTimeSec  = 1
	DefaultDedupTTLSec      = 300
	DefaultMaxMessageLength = 4096
	DefaultReplyTemplate    = "[回复 @{username}] {message}"
)

// Default retention values. Mapping retention must stay above the 48h
// platform recall windows so delete propagation keeps working.
const (
	DefaultRetentionHours        = 72
	DefaultCleanupIntervalHours  = 1
	DefaultMediaMaxFileSizeMB    = 50
	DefaultMediaTempRetentionHrs = 24
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec         = 30
	DefaultDatabaseRetryAttempts  = 3
	DefaultDatabaseBackoffMs      = 1000
	DefaultDatabaseMaxBackoffMs   = 60000
	DefaultGracefulShutdownSec    = 30
	DefaultServerPort             = 8084
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultGatewayReconnectSec    = 5
	DefaultGatewayCallTimeoutSec  = 10
)
