package config

import (
	"encoding/json"
	"fmt"
	"os"

	"emberchat/internal/constants"
	apperrors "emberchat/internal/errors"
	"emberchat/internal/models"

	"github.com/joho/godotenv"
)

var (
	ErrMissingBackendURL  = models.ConfigError{Message: "missing backend base URL"}
	ErrMissingRealtimeURL = models.ConfigError{Message: "missing realtime URL"}
	ErrMissingBucket      = models.ConfigError{Message: "missing media bucket"}
)

// LoadConfig reads the JSON config at path, fills defaults, and applies
// environment overrides. A .env file in the working directory is loaded
// first if present; a missing .env is not an error.
func LoadConfig(path string) (*models.Config, error) {
	_ = godotenv.Load()

	file, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if err != nil {
		return nil, apperrors.NewConfigError(path, fmt.Sprintf("failed to read config file: %v", err))
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, apperrors.NewConfigError(path, fmt.Sprintf("failed to parse config file: %v", err))
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Backend.TimeoutSec <= 0 {
		c.Backend.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Media.Bucket == "" {
		c.Media.Bucket = constants.DefaultMediaBucket
	}
	if c.Media.SignedURLTTLSec <= 0 {
		c.Media.SignedURLTTLSec = constants.DefaultSignedURLTTLSec
	}
	if c.Media.URLBufferSec <= 0 {
		c.Media.URLBufferSec = constants.DefaultSignedURLBufferSec
	}
	if c.Media.MaxVideoSizeMB <= 0 {
		c.Media.MaxVideoSizeMB = constants.DefaultMaxVideoSizeMB
	}
	if c.Typing.TimeoutMs <= 0 {
		c.Typing.TimeoutMs = constants.DefaultTypingTimeoutMs
	}
	if c.Typing.ThrottleMs <= 0 {
		c.Typing.ThrottleMs = constants.DefaultTypingThrottleMs
	}
	if c.Realtime.Reconnect.InitialBackoffMs <= 0 {
		c.Realtime.Reconnect.InitialBackoffMs = constants.DefaultReconnectInitialMs
	}
	if c.Realtime.Reconnect.MaxBackoffMs <= 0 {
		c.Realtime.Reconnect.MaxBackoffMs = constants.DefaultReconnectMaxMs
	}
	if c.Realtime.Reconnect.MaxAttempts < 0 {
		c.Realtime.Reconnect.MaxAttempts = constants.DefaultReconnectMaxAttempts
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "emberchat.db"
	}
	if c.Server.MediaDir == "" {
		c.Server.MediaDir = "media"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("EMBERCHAT_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("EMBERCHAT_API_KEY"); v != "" {
		c.Backend.APIKey = v
		c.Realtime.APIKey = v
	}
	if v := os.Getenv("EMBERCHAT_REALTIME_URL"); v != "" {
		c.Realtime.URL = v
	}
	if v := os.Getenv("EMBERCHAT_MEDIA_CACHE_DIR"); v != "" {
		c.Media.CacheDir = v
	}
	if v := os.Getenv("EMBERCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func validate(c *models.Config) error {
	if c.Backend.BaseURL == "" {
		return ErrMissingBackendURL
	}
	if c.Realtime.URL == "" {
		return ErrMissingRealtimeURL
	}
	if c.Media.Bucket == "" {
		return ErrMissingBucket
	}
	return nil
}
