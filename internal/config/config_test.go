package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/calsched/server/recurrence"
)

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calsched.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
log_level: debug
spool_dir: /var/spool/calsched
validate_recipients: false
relay_domains: [example.com]
store:
  kind: bolt
  path: /var/lib/calsched/mail.db
recurrence:
  max_occurrences: 200
  max_time_span: 8760h
  cache:
    ttl: 1m
    max_entries: 10
accounts:
  - id: alice
    address: alice@example.com
    timezone: Europe/Berlin
    password: secret
    delegates: [dave]
  - id: dave
    address: dave@example.com
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "/api", cfg.BaseURI, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.ValidateRecipients)
	assert.Equal(t, []string{"example.com"}, cfg.RelayDomains)
	assert.Equal(t, StoreConfig{Kind: StoreBolt, Path: "/var/lib/calsched/mail.db"}, cfg.Store)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, []string{"dave"}, cfg.Accounts[0].Delegates)

	ec := cfg.EngineConfig()
	assert.Equal(t, 200, ec.Expansion.MaxOccurrences)
	assert.Equal(t, 365*24*time.Hour, ec.Expansion.MaxTimeSpan)
	assert.True(t, ec.CacheEnabled)
	assert.Equal(t, time.Minute, ec.CacheConfig.TTL)
	assert.Equal(t, 10, ec.CacheConfig.MaxEntries)
	assert.Equal(t, recurrence.DefaultEngineConfig.LargeRangeLimit, ec.LargeRangeLimit)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calsched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "unknown log level"},
		{name: "store kind", mutate: func(c *Config) { c.Store.Kind = "sql" }, wantErr: "unknown store kind"},
		{name: "bolt without path", mutate: func(c *Config) { c.Store.Kind = StoreBolt }, wantErr: "needs a path"},
		{name: "relative base uri", mutate: func(c *Config) { c.BaseURI = "api" }, wantErr: "must start with /"},
		{name: "negative cap", mutate: func(c *Config) { c.Recurrence.MaxOccurrences = -1 }, wantErr: "max_occurrences"},
		{
			name: "duplicate account",
			mutate: func(c *Config) {
				c.Accounts = []AccountConfig{{ID: "a", Address: "a@x"}, {ID: "a", Address: "b@x"}}
			},
			wantErr: "duplicate account",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Accounts = []AccountConfig{{ID: "a", Address: "a@x", Timezone: "Mars/Olympus"}} },
			wantErr: "account a",
		},
		{
			name:    "unknown delegate",
			mutate:  func(c *Config) { c.Accounts = []AccountConfig{{ID: "a", Address: "a@x", Delegates: []string{"b"}}} },
			wantErr: "unknown delegate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
