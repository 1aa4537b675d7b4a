package config

import (
	"bytes"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var configTemplate = `# config.toml

[server]
  # Hostname or IP address the status API listens on.
  # Default: "{{ .host }}"
  host = "{{ .host }}"

  # Port the status API listens on.
  # Default: 8383
  port = 8383

  # Base URL when serving under a subdirectory (e.g. /localsync/).
  # Optional.
  #base_url = ""

[database]
  # Path of the local SQLite database file.
  # Relative paths are resolved against the config directory.
  # Default: "localsync.db"
  path = "localsync.db"

  # How long a writer waits for the database lock, in milliseconds.
  # Default: 5000
  busy_timeout_ms = 5000

[logging]
  # Log file directory. Logs go to stderr only when empty.
  # Optional.
  #path = "log/"

  # Options: "ERROR", "WARN", "INFO", "DEBUG", "TRACE"
  # Default: "DEBUG"
  level = "DEBUG"

  # Maximum size of a log file in megabytes before it is rotated.
  # Default: 50
  max_file_size = 50

  # Maximum number of old log files to keep.
  # Default: 3
  max_backup_count = 3

[sync]
  # Backend endpoint queued changes are uploaded to.
  # Uploads are disabled when empty.
  #endpoint = "https://example.com/api/data"

  # Token sent as a bearer token to the backend.
  #token = ""

  #user_id = ""

  # Maximum number of queue entries returned by one batch read.
  # Default: 100
  crud_batch_limit = 100

  # How often pending uploads are retried.
  # Default: "30s"
  upload_retry_interval = "30s"

  # Cron schedule for logging a status summary.
  # Default: "@every 5m"
  status_log_schedule = "@every 5m"

  # What happens when fetching credentials fails.
  # "retry" keeps retrying with backoff, "propagate" reports the error.
  # Default: "retry"
  credential_errors = "retry"

  # Backoff bounds for credential and upload retries.
  retry_initial_interval = "1s"
  retry_max_interval = "1m"
`

func writeConfig(configPath string, configFile string) error {
	cfgPath := filepath.Join(configPath, configFile)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(configPath, os.ModePerm); err != nil {
			log.Println(err)
			return err
		}
	}

	if _, err := os.Stat(cfgPath); !errors.Is(err, os.ErrNotExist) {
		return nil
	}

	host := "127.0.0.1"
	if _, dockerErr := os.Stat("/.dockerenv"); dockerErr == nil {
		host = "0.0.0.0"
	} else if b, cgroupErr := os.ReadFile("/proc/1/cgroup"); cgroupErr == nil {
		if strings.Contains(string(b), "/docker") || strings.Contains(string(b), "/lxc") {
			host = "0.0.0.0"
		}
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "could not create config template")
	}

	var buffer bytes.Buffer
	if err := tmpl.Execute(&buffer, map[string]string{"host": host}); err != nil {
		return errors.Wrap(err, "could not write config template output")
	}

	f, err := os.Create(cfgPath)
	if err != nil {
		log.Printf("error creating file: %q", err)
		return err
	}
	defer func(f *os.File) {
		if errClose := f.Close(); errClose != nil {
			log.Printf("error closing file: %q", errClose)
		}
	}(f)

	if _, err := f.Write(buffer.Bytes()); err != nil {
		log.Printf("error writing contents to file: %v %q", configPath, err)
		return err
	}

	return f.Sync()
}

type Config interface {
	Current() domain.Config
	DynamicReload(log logger.Logger)
}

type AppConfig struct {
	Config *domain.Config
	m      sync.Mutex
	v      *viper.Viper
}

func New(configPath string, version string) *AppConfig {
	c := &AppConfig{v: viper.New()}
	c.defaults()
	c.Config.Version = version
	c.Config.ConfigPath = configPath

	c.load(configPath)

	return c
}

func (c *AppConfig) defaults() {
	c.Config = &domain.Config{
		Version: "dev",
		Server: domain.ServerConfig{
			Host: "127.0.0.1",
			Port: 8383,
		},
		Database: domain.DatabaseConfig{
			Path:          "localsync.db",
			BusyTimeoutMs: 5000,
		},
		Logging: domain.LoggingConfig{
			Level:          "DEBUG",
			MaxFileSize:    50,
			MaxBackupCount: 3,
		},
		Sync: domain.SyncConfig{
			CrudBatchLimit:       100,
			UploadRetryInterval:  "30s",
			StatusLogSchedule:    "@every 5m",
			CredentialErrors:     domain.CredentialErrorsRetry,
			RetryInitialInterval: "1s",
			RetryMaxInterval:     "1m",
		},
	}
}

func (c *AppConfig) load(configPath string) {
	c.v.SetConfigType("toml")
	c.v.SetEnvPrefix("LOCALSYNC")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if configPath != "" {
		configPath = path.Clean(configPath)
		if err := writeConfig(configPath, "config.toml"); err != nil {
			log.Printf("writeConfig error during load: %q", err)
		}
		c.v.SetConfigFile(path.Join(configPath, "config.toml"))
	} else {
		c.v.SetConfigName("config")
		c.v.AddConfigPath(".")
		c.v.AddConfigPath("$HOME/.config/localsync")
	}

	if err := c.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Config file not found, using defaults: %s", c.v.ConfigFileUsed())
		} else {
			log.Printf("Config read error: %q. Using defaults.", err)
		}
	}

	if err := c.v.Unmarshal(c.Config); err != nil {
		log.Fatalf("Could not unmarshal config file into struct: %v. Config file used: %s", err, c.v.ConfigFileUsed())
	}

	c.resolvePaths(c.Config)
}

// resolvePaths makes a relative database path relative to the config directory.
func (c *AppConfig) resolvePaths(cfg *domain.Config) {
	if cfg.ConfigPath == "" || cfg.Database.Path == "" || filepath.IsAbs(cfg.Database.Path) {
		return
	}
	cfg.Database.Path = filepath.Join(cfg.ConfigPath, cfg.Database.Path)
}

// Current returns a copy of the active configuration.
func (c *AppConfig) Current() domain.Config {
	c.m.Lock()
	defer c.m.Unlock()

	return *c.Config
}

// DynamicReload watches the config file and applies changes. Only the log
// level takes effect without a restart.
func (c *AppConfig) DynamicReload(log logger.Logger) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		c.m.Lock()
		defer c.m.Unlock()

		log.Info().Msgf("Config file changed: %s. Reloading configuration.", e.Name)

		if err := c.v.ReadInConfig(); err != nil {
			log.Error().Err(err).Msg("Error reading config file during dynamic reload")
			return
		}

		newConfig := *c.Config
		if err := c.v.Unmarshal(&newConfig); err != nil {
			log.Error().Err(err).Msg("Error unmarshalling config during dynamic reload")
			return
		}
		c.resolvePaths(&newConfig)

		c.Config = &newConfig

		log.SetLogLevel(c.Config.Logging.Level)

		log.Debug().Msg("Configuration reloaded successfully!")
	})
	c.v.WatchConfig()
}

// SetLogLevel changes the configured log level in memory.
func (c *AppConfig) SetLogLevel(level string) {
	c.m.Lock()
	defer c.m.Unlock()

	c.Config.Logging.Level = level
}
