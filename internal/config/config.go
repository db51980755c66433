// Package config handles inbox configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Messaging tunes the inbox core.
	Messaging MessagingConfig `yaml:"messaging" mapstructure:"messaging"`

	// Notifications configures the fan-out.
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where the database lives (default: ~/.local/share/cobuild).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config and context files are stored (default: ~/.config/cobuild).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// WriteAttempts bounds how often a write transaction is tried while the
	// database stays locked past the busy timeout.
	WriteAttempts int `yaml:"write_attempts" mapstructure:"write_attempts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// MessagingConfig contains inbox core settings.
type MessagingConfig struct {
	// ReadRetryBackoff is the pause before the single retry of a failed read.
	ReadRetryBackoff time.Duration `yaml:"read_retry_backoff" mapstructure:"read_retry_backoff"`

	// InboxDebounce coalesces bursts of inbox change events.
	InboxDebounce time.Duration `yaml:"inbox_debounce" mapstructure:"inbox_debounce"`

	// MarkReadOnReceipt marks live inbound messages read in a visible conversation.
	MarkReadOnReceipt bool `yaml:"mark_read_on_receipt" mapstructure:"mark_read_on_receipt"`

	// PreviewLength is the inbox preview length in characters.
	PreviewLength int `yaml:"preview_length" mapstructure:"preview_length"`

	// AggregateConcurrency bounds parallel reads while building the inbox.
	AggregateConcurrency int `yaml:"aggregate_concurrency" mapstructure:"aggregate_concurrency"`
}

// NotificationsConfig contains fan-out settings.
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Workers bounds concurrent deliveries.
	Workers int `yaml:"workers" mapstructure:"workers"`

	// Timeout bounds a single delivery.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	Email EmailConfig `yaml:"email" mapstructure:"email"`
}

// EmailConfig configures the SMTP relay.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	SMTPAddr string `yaml:"smtp_addr" mapstructure:"smtp_addr"`
	From     string `yaml:"from" mapstructure:"from"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "cobuild"),
			ConfigDir: filepath.Join(homeDir, ".config", "cobuild"),
		},
		Database: DatabaseConfig{
			Path:           "", // Will be set to DataDir/inbox.db
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
			WriteAttempts:  3,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Messaging: MessagingConfig{
			ReadRetryBackoff:     200 * time.Millisecond,
			InboxDebounce:        100 * time.Millisecond,
			MarkReadOnReceipt:    true,
			PreviewLength:        40,
			AggregateConcurrency: 8,
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Workers: 4,
			Timeout: 10 * time.Second,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}
	if c.Database.BusyTimeoutMs < 0 {
		return fmt.Errorf("database.busy_timeout_ms must not be negative")
	}
	if c.Database.WriteAttempts < 0 {
		return fmt.Errorf("database.write_attempts must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of console, json")
	}

	if c.Messaging.ReadRetryBackoff < 0 {
		return fmt.Errorf("messaging.read_retry_backoff must not be negative")
	}
	if c.Messaging.InboxDebounce < 0 {
		return fmt.Errorf("messaging.inbox_debounce must not be negative")
	}
	if c.Messaging.PreviewLength < 1 {
		return fmt.Errorf("messaging.preview_length must be at least 1")
	}
	if c.Messaging.AggregateConcurrency < 1 {
		return fmt.Errorf("messaging.aggregate_concurrency must be at least 1")
	}

	if c.Notifications.Enabled {
		if c.Notifications.Workers < 1 {
			return fmt.Errorf("notifications.workers must be at least 1")
		}
		if c.Notifications.Timeout <= 0 {
			return fmt.Errorf("notifications.timeout must be positive")
		}
	}

	if email := c.Notifications.Email; email.Enabled {
		if email.SMTPAddr == "" {
			return fmt.Errorf("notifications.email.smtp_addr is required when email is enabled")
		}
		if email.From == "" {
			return fmt.Errorf("notifications.email.from is required when email is enabled")
		}
		if (email.Username == "") != (email.Password == "") {
			return fmt.Errorf("notifications.email.username and password must be set together")
		}
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "inbox.db")
}

// ContextPath returns the CLI context file path.
func (c *Config) ContextPath() string {
	return filepath.Join(c.Global.ConfigDir, "context.yaml")
}
