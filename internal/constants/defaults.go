package constants

// Typing indicator protocol values
const (
	DefaultTypingTimeoutMs  = 3000
	DefaultTypingThrottleMs = 2000
)

// Signed URL values
const (
	DefaultSignedURLTTLSec    = 3600
	DefaultSignedURLBufferSec = 300
)

// Media values
const (
	DefaultMediaBucket    = "chat-media"
	DefaultMaxVideoSizeMB = 100
	VideoExpiryDays       = 30
	CacheDirPerm          = 0o750
)

// Transport values
const (
	DefaultHTTPTimeoutSec       = 30
	DefaultDownloadTimeoutSec   = 60
	DefaultReconnectInitialMs   = 1000
	DefaultReconnectMaxMs       = 60000
	DefaultReconnectMaxAttempts = 0 // 0 means reconnect forever
)

// Dev backend server values
const (
	DefaultServerPort            = 8471
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 10
)
