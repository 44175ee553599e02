package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyp0633/calsched/server/recurrence"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

// StoreConfig selects the Mailbox Store backend.
type StoreConfig struct {
	// Kind is "memory" or "bolt".
	Kind string `yaml:"kind"`
	// Path is the database file of the bolt store.
	Path string `yaml:"path"`
}

// RecurrenceConfig bounds expansion and tunes the expansion cache.
type RecurrenceConfig struct {
	MaxOccurrences int                    `yaml:"max_occurrences"`
	MaxTimeSpan    time.Duration          `yaml:"max_time_span"`
	CacheEnabled   bool                   `yaml:"cache_enabled"`
	Cache          recurrence.CacheConfig `yaml:"cache"`
}

// AccountConfig is a mailbox created at startup, with its login.
type AccountConfig struct {
	ID       string `yaml:"id"`
	Address  string `yaml:"address"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
	Password string `yaml:"password"`
	// Delegates may act on behalf of this mailbox.
	Delegates []string `yaml:"delegates"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// BaseURI prefixes every API route.
	BaseURI string `yaml:"base_uri"`
	// MetricsPath exposes prometheus metrics. Empty disables the endpoint.
	MetricsPath string `yaml:"metrics_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// SpoolDir holds outbound messages until sent. Empty means the system
	// temporary directory.
	SpoolDir string `yaml:"spool_dir"`

	// ProductID is written as PRODID into every outbound calendar.
	ProductID string `yaml:"product_id"`

	// ValidateRecipients checks recipients against the relay before
	// non-forced sends.
	ValidateRecipients bool `yaml:"validate_recipients"`
	// RelayDomains are the recipient domains the relay accepts. Empty
	// accepts every domain.
	RelayDomains []string `yaml:"relay_domains"`
	// Outbox receives every sent message as a file. Empty discards them
	// after logging.
	Outbox string `yaml:"outbox"`

	Store      StoreConfig      `yaml:"store"`
	Recurrence RecurrenceConfig `yaml:"recurrence"`
	Accounts   []AccountConfig  `yaml:"accounts"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	def := recurrence.DefaultEngineConfig
	return &Config{
		Listen:             "127.0.0.1:8080",
		BaseURI:            "/api",
		MetricsPath:        "/metrics",
		LogLevel:           "info",
		ProductID:          "-//Caldora//Go Calendar Scheduling//EN",
		ValidateRecipients: true,
		Store:              StoreConfig{Kind: StoreMemory},
		Recurrence: RecurrenceConfig{
			MaxOccurrences: def.Expansion.MaxOccurrences,
			MaxTimeSpan:    def.Expansion.MaxTimeSpan,
			CacheEnabled:   def.CacheEnabled,
			Cache:          def.CacheConfig,
		},
	}
}

// Load reads configuration from the given YAML path. Keys missing from the
// file keep their defaults, and a missing file yields DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreBolt:
		if c.Store.Path == "" {
			return errors.New("bolt store needs a path")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}

	if c.BaseURI != "" && !strings.HasPrefix(c.BaseURI, "/") {
		return fmt.Errorf("base uri %q must start with /", c.BaseURI)
	}
	if c.Recurrence.MaxOccurrences < 0 {
		return errors.New("max_occurrences must not be negative")
	}
	if c.Recurrence.MaxTimeSpan < 0 {
		return errors.New("max_time_span must not be negative")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" || a.Address == "" {
			return errors.New("accounts need an id and an address")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account %q", a.ID)
		}
		seen[a.ID] = true
		if a.Timezone != "" {
			if _, err := time.LoadLocation(a.Timezone); err != nil {
				return fmt.Errorf("account %s: %w", a.ID, err)
			}
		}
	}
	for _, a := range c.Accounts {
		for _, d := range a.Delegates {
			if !seen[d] {
				return fmt.Errorf("account %s: unknown delegate %q", a.ID, d)
			}
		}
	}
	return nil
}

// EngineConfig returns the recurrence engine configuration.
func (c *Config) EngineConfig() recurrence.EngineConfig {
	ec := recurrence.DefaultEngineConfig
	ec.Expansion = recurrence.ExpansionOptions{
		MaxOccurrences: c.Recurrence.MaxOccurrences,
		MaxTimeSpan:    c.Recurrence.MaxTimeSpan,
	}
	ec.CacheEnabled = c.Recurrence.CacheEnabled
	ec.CacheConfig = c.Recurrence.Cache
	return ec
}
