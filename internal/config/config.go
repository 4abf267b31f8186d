package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all syncbox configuration
type Config struct {
	// Root directory for durable state (cache, queue, subscription keys)
	DataDir string `json:"dataDir"`

	Logging LoggingConfig `json:"logging"`

	// Interception proxy the client shell points at
	Proxy ProxyConfig `json:"proxy"`

	// Control API + event hub (loopback)
	Control ControlConfig `json:"control"`

	Cache CacheConfig `json:"cache"`
	Queue QueueConfig `json:"queue"`
	Sync  SyncConfig  `json:"sync"`

	// Inbound push transport
	Push PushConfig `json:"push"`

	Notifications NotificationsConfig `json:"notifications"`

	// Optional YAML file extending the built-in classifier rules
	RulesPath string `json:"rulesPath,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level"` // debug, info, warn, error
}

type ProxyConfig struct {
	Listen      string   `json:"listen"`
	Origin      string   `json:"origin"`
	OfflinePage string   `json:"offlinePage"`
	Precache    []string `json:"precache,omitempty"`
}

type ControlConfig struct {
	Listen string `json:"listen"`
}

type CacheConfig struct {
	Backend    string                     `json:"backend"` // "memory" or "leveldb"
	Path       string                     `json:"path,omitempty"`
	Namespaces map[string]NamespaceConfig `json:"namespaces,omitempty"`
}

// NamespaceConfig is the per-namespace (maxEntries, ttlMs) pair fixed at startup.
type NamespaceConfig struct {
	MaxEntries int   `json:"maxEntries"`
	TTLMs      int64 `json:"ttlMs"`
}

// TTL returns the namespace TTL as a duration.
func (n NamespaceConfig) TTL() time.Duration {
	return time.Duration(n.TTLMs) * time.Millisecond
}

type QueueConfig struct {
	Path string `json:"path,omitempty"`
}

type SyncConfig struct {
	// Cron expression for the periodic drain trigger; empty disables it
	Schedule string `json:"schedule"`
	// How often to probe the origin while offline
	ProbeIntervalSec int `json:"probeIntervalSec"`
}

type PushConfig struct {
	Enabled          bool   `json:"enabled"`
	Broker           string `json:"broker,omitempty"`
	ClientID         string `json:"clientId,omitempty"`
	Topic            string `json:"topic,omitempty"`
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	Encryption       string `json:"encryption"` // "none" or "aes128gcm"
	SubscriptionPath string `json:"subscriptionPath,omitempty"`
}

type NotificationsConfig struct {
	// Optional TOML file overriding the embedded templates
	TemplatesPath  string            `json:"templatesPath,omitempty"`
	DefaultLanding string            `json:"defaultLanding"`
	QuietHours     QuietHoursConfig  `json:"quietHours"`
	Preferences    PreferencesConfig `json:"preferences"`
}

// QuietHoursConfig is a local-time window (HH:MM) that may cross midnight.
// Empty start and end disable suppression.
type QuietHoursConfig struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type PreferencesConfig struct {
	Sound      bool     `json:"sound"`
	Vibration  bool     `json:"vibration"`
	MutedTypes []string `json:"mutedTypes,omitempty"`
}

// Namespace identifiers recognized by the classifier and the cache store.
const (
	NamespaceStatic  = "static"
	NamespaceDynamic = "dynamic"
	NamespaceAPI     = "api"
	NamespaceImage   = "image"
	NamespaceFont    = "font"
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Logging: LoggingConfig{Level: "info"},
		Proxy: ProxyConfig{
			Listen:      "127.0.0.1:8787",
			Origin:      "http://localhost:4000",
			OfflinePage: "/offline.html",
			Precache:    []string{"/", "/offline.html", "/manifest.json"},
		},
		Control: ControlConfig{
			Listen: "127.0.0.1:8788",
		},
		Cache: CacheConfig{
			Backend: "leveldb",
			Namespaces: map[string]NamespaceConfig{
				NamespaceStatic:  {MaxEntries: 64, TTLMs: 30 * 24 * 3600 * 1000},
				NamespaceDynamic: {MaxEntries: 48, TTLMs: 7 * 24 * 3600 * 1000},
				NamespaceAPI:     {MaxEntries: 32, TTLMs: 5 * 60 * 1000},
				NamespaceImage:   {MaxEntries: 96, TTLMs: 30 * 24 * 3600 * 1000},
				NamespaceFont:    {MaxEntries: 16, TTLMs: 365 * 24 * 3600 * 1000},
			},
		},
		Sync: SyncConfig{
			Schedule:         "*/5 * * * *",
			ProbeIntervalSec: 30,
		},
		Push: PushConfig{
			Enabled:    false,
			Encryption: "none",
			Topic:      "kanbanhq/push",
		},
		Notifications: NotificationsConfig{
			DefaultLanding: "/",
			QuietHours:     QuietHoursConfig{Start: "22:00", End: "08:00"},
			Preferences:    PreferencesConfig{Sound: true, Vibration: true},
		},
	}
}

// Load reads config from a JSON file, overlaying the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.resolvePaths()
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Validate checks cross-field constraints that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "leveldb":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}

	for name, ns := range c.Cache.Namespaces {
		if ns.MaxEntries <= 0 {
			return fmt.Errorf("config: namespace %s: maxEntries must be positive", name)
		}
		if ns.TTLMs <= 0 {
			return fmt.Errorf("config: namespace %s: ttlMs must be positive", name)
		}
	}

	switch c.Push.Encryption {
	case "", "none", "aes128gcm":
	default:
		return fmt.Errorf("config: unknown push encryption %q", c.Push.Encryption)
	}
	if c.Push.Enabled && c.Push.Broker == "" {
		return fmt.Errorf("config: push enabled but no broker configured")
	}

	if c.Proxy.Origin == "" {
		return fmt.Errorf("config: proxy origin is required")
	}

	for _, hm := range []string{c.Notifications.QuietHours.Start, c.Notifications.QuietHours.End} {
		if hm == "" {
			continue
		}
		if _, err := time.Parse("15:04", hm); err != nil {
			return fmt.Errorf("config: quiet hours time %q: %w", hm, err)
		}
	}

	return nil
}

// resolvePaths fills in durable-state paths relative to DataDir when unset.
func (c *Config) resolvePaths() {
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(c.DataDir, "cache")
	}
	if c.Queue.Path == "" {
		c.Queue.Path = filepath.Join(c.DataDir, "queue.db")
	}
	if c.Push.SubscriptionPath == "" {
		c.Push.SubscriptionPath = filepath.Join(c.DataDir, "subscription.json")
	}
}
