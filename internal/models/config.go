package models

// ConfigError indicates an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return "config error: " + e.Message
}

// Config is the top-level configuration for the chat sync engine and the
// dev backend process.
type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Realtime RealtimeConfig `json:"realtime"`
	Media    MediaConfig    `json:"media"`
	Typing   TypingConfig   `json:"typing"`
	Tracing  TracingConfig  `json:"tracing"`
	Server   ServerConfig   `json:"server"`
	LogLevel string         `json:"log_level"`
}

// BackendConfig points at the row-store REST API.
type BackendConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	TimeoutSec int    `json:"timeout_sec"`
}

// RealtimeConfig points at the websocket pub/sub endpoint.
type RealtimeConfig struct {
	URL       string      `json:"url"`
	APIKey    string      `json:"api_key"`
	Reconnect RetryConfig `json:"reconnect"`
}

// RetryConfig controls exponential backoff for transport reconnects.
// Row operations are never retried automatically.
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts"`
}

// MediaConfig controls signed URL minting and the local video cache.
// An empty CacheDir disables the disk cache entirely (platforms without
// persistent storage).
type MediaConfig struct {
	Bucket          string `json:"bucket"`
	CacheDir        string `json:"cache_dir"`
	SignedURLTTLSec int    `json:"signed_url_ttl_sec"`
	URLBufferSec    int    `json:"url_buffer_sec"`
	MaxVideoSizeMB  int    `json:"max_video_size_mb"`
}

// TypingConfig controls the typing-indicator protocol.
type TypingConfig struct {
	TimeoutMs  int `json:"timeout_ms"`
	ThrottleMs int `json:"throttle_ms"`
}

// ServerConfig configures the dev backend process. The signing secret is
// read from the environment, never from the file.
type ServerConfig struct {
	Port     int    `json:"port"`
	DBPath   string `json:"db_path"`
	MediaDir string `json:"media_dir"`
	APIKey   string `json:"api_key"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	UseStdout    bool    `json:"use_stdout"`
	OTLPEndpoint string  `json:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate"`
	Environment  string  `json:"environment"`
}
