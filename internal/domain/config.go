package domain

import "time"

// CredentialErrorPolicy decides what the connector adapter does with a
// failed credential fetch.
type CredentialErrorPolicy string

const (
	// CredentialErrorsRetry logs the failure and reports missing credentials,
	// which callers treat as a transient state.
	CredentialErrorsRetry CredentialErrorPolicy = "retry"
	// CredentialErrorsPropagate logs the failure and returns it.
	CredentialErrorsPropagate CredentialErrorPolicy = "propagate"
)

// ServerConfig holds settings for the status HTTP API
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
}

// DatabaseConfig holds settings for the local SQLite database
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Path           string `mapstructure:"path"`
	Level          string `mapstructure:"level"`
	MaxFileSize    int    `mapstructure:"max_file_size"`
	MaxBackupCount int    `mapstructure:"max_backup_count"`
}

// SyncConfig holds settings for the upload engine and the backend connector
type SyncConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	UserID   string `mapstructure:"user_id"`

	// CrudBatchLimit caps the number of queue entries returned by a single batch read.
	CrudBatchLimit int `mapstructure:"crud_batch_limit"`

	// UploadRetryInterval is a Go duration string, e.g. "30s".
	UploadRetryInterval string `mapstructure:"upload_retry_interval"`
	StatusLogSchedule   string `mapstructure:"status_log_schedule"`

	// CredentialErrors is either "retry" or "propagate".
	CredentialErrors CredentialErrorPolicy `mapstructure:"credential_errors"`

	RetryInitialInterval string `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     string `mapstructure:"retry_max_interval"`
}

// Config holds the application's configuration, mapped from config.toml
type Config struct {
	Version    string
	ConfigPath string

	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// RetryInterval is the upload retry period, 30s when unset or invalid.
func (s SyncConfig) RetryInterval() time.Duration {
	return parseDuration(s.UploadRetryInterval, 30*time.Second)
}

func (s SyncConfig) BackoffInitial() time.Duration {
	return parseDuration(s.RetryInitialInterval, time.Second)
}

func (s SyncConfig) BackoffMax() time.Duration {
	return parseDuration(s.RetryMaxInterval, time.Minute)
}

// BatchLimit is CrudBatchLimit with a default of 100.
func (s SyncConfig) BatchLimit() int {
	if s.CrudBatchLimit <= 0 {
		return 100
	}
	return s.CrudBatchLimit
}

// ConfigUpdate is a partial update applied through the HTTP API.
type ConfigUpdate struct {
	LogLevel *string `json:"log_level,omitempty"`
}
