package config

import "strings"

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "30s").
type Config struct {
	Timezone string         `json:"timezone"`
	Logging  LoggingConfig  `json:"logging"`
	Webhook  WebhookConfig  `json:"webhook"`
	Executor ExecutorConfig `json:"executor"`
	Storage  StorageConfig  `json:"storage"`
	Admin    AdminConfig    `json:"admin"`

	Entries map[string]EntryConfig `json:"entries"`

	// order keeps entry ids in file order when the format preserves it.
	order []string
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Format is console, plain or json; empty auto-detects journald.
	Format  string            `json:"format,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WebhookConfig configures the chat webhook announcements.
//
// Defaults:
//   - enabled: false
//   - title: "" (webhook-message is used)
//   - queue_size: 256
//   - rate_per_sec: 5
type WebhookConfig struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ExecutorConfig selects how actions run. Concurrent is a capability flag
// read at startup: false runs one batch at a time, true uses a worker pool.
//
// Defaults:
//   - workers: 2 (pool only)
//   - queue_size: 64
//   - timeout: "0s" (no per-action timeout)
type ExecutorConfig struct {
	Concurrent bool   `json:"concurrent"`
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	Dir        string `json:"dir,omitempty"`
}

// StorageConfig configures the optional firing audit trail.
// Driver is "file", "sqlite" or "none".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// AdminConfig configures the local HTTP control surface.
//
// Binding to a non-loopback address requires a token.
type AdminConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// EntryConfig is one schedulable group of actions.
type EntryConfig struct {
	Actions  []string `json:"actions"`
	Schedule []string `json:"schedule"`
	Message  []string `json:"message,omitempty"`
	Color    string   `json:"color,omitempty"`
}

const (
	DefaultTimezone  = "UTC"
	DefaultColor     = "#ffffff"
	DefaultAdminAddr = "127.0.0.1:8089"
)

// ApplyDefaults fills omitted settings in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = "./cmdtimer.log"
	}
	if c.Webhook.QueueSize <= 0 {
		c.Webhook.QueueSize = 256
	}
	if c.Webhook.RatePerSec <= 0 {
		c.Webhook.RatePerSec = 5
	}
	if c.Executor.QueueSize <= 0 {
		c.Executor.QueueSize = 64
	}
	if c.Executor.Concurrent && c.Executor.Workers <= 0 {
		c.Executor.Workers = 2
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "none"
	}
	if strings.TrimSpace(c.Admin.Addr) == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
	for id, e := range c.Entries {
		if strings.TrimSpace(e.Color) == "" {
			e.Color = DefaultColor
			c.Entries[id] = e
		}
	}
}
