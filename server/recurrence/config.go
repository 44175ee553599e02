package recurrence

import (
	"time"
)

// EngineConfig holds configuration options for the recurrence engine
type EngineConfig struct {
	// Cache configuration
	CacheEnabled bool
	CacheConfig  CacheConfig

	Expansion ExpansionOptions

	// HasOccurrenceInRange first checks a limited window when the queried
	// range exceeds LargeRangeThreshold.
	LargeRangeThreshold time.Duration
	LargeRangeLimit     time.Duration
}

// DefaultEngineConfig provides sensible defaults for production use
var DefaultEngineConfig = EngineConfig{
	CacheEnabled: true,
	CacheConfig:  DefaultCacheConfig,
	Expansion:    DefaultExpansionOptions,

	LargeRangeThreshold: 90 * 24 * time.Hour, // 90 days
	LargeRangeLimit:     90 * 24 * time.Hour,
}

// HighPerformanceConfig is optimized for high-traffic scenarios
var HighPerformanceConfig = EngineConfig{
	CacheEnabled: true,
	CacheConfig: CacheConfig{
		TTL:             30 * time.Minute,
		MaxEntries:      5000,
		CleanupInterval: 10 * time.Minute,
	},
	Expansion: ExpansionOptions{MaxOccurrences: 500, MaxTimeSpan: 365 * 24 * time.Hour},

	LargeRangeThreshold: 30 * 24 * time.Hour,
	LargeRangeLimit:     30 * 24 * time.Hour,
}

// LowMemoryConfig is optimized for memory-constrained environments
var LowMemoryConfig = EngineConfig{
	CacheEnabled: true,
	CacheConfig: CacheConfig{
		TTL:             5 * time.Minute,
		MaxEntries:      100,
		CleanupInterval: 2 * time.Minute,
	},
	Expansion: DefaultExpansionOptions,

	LargeRangeThreshold: 180 * 24 * time.Hour,
	LargeRangeLimit:     180 * 24 * time.Hour,
}

// DisabledCacheConfig turns off caching entirely
var DisabledCacheConfig = EngineConfig{
	CacheEnabled: false,
	Expansion:    DefaultExpansionOptions,

	LargeRangeThreshold: 365 * 24 * time.Hour,
	LargeRangeLimit:     365 * 24 * time.Hour,
}

// NewEngineWithConfig creates a new recurrence engine with custom configuration.
// Engines with a cache must be closed.
func NewEngineWithConfig(config EngineConfig) *Engine {
	var cache *RecurrenceCache
	if config.CacheEnabled {
		cache = NewRecurrenceCache(config.CacheConfig)
	}

	return &Engine{
		cache:  cache,
		config: config,
	}
}
