package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultTokenName            = "sessionkit_id"
	DefaultStorableTokenName    = "sessionkit_store"
	DefaultLifetime             = 2 * time.Hour
	DefaultLongtermLifetime     = 14 * 24 * time.Hour
	DefaultMemorySweepInterval  = time.Minute
	DefaultStorageSweepInterval = time.Hour
	DefaultSweepTimeout         = 30 * time.Second
	DefaultTableName            = "sessions"
)

// Config holds the session manager configuration.
type Config struct {
	// TokenName is the client-side token carrying the session identifier.
	TokenName string `yaml:"token_name"`

	// StorableTokenName is the client-side token recording storable
	// consent when AlwaysStore is false.
	StorableTokenName string `yaml:"storable_token_name"`

	// Lifetime is the expiry horizon applied at each finalize for
	// short-term sessions.
	Lifetime time.Duration `yaml:"lifetime"`

	// LongtermLifetime is the expiry horizon for sessions marked longterm.
	LongtermLifetime time.Duration `yaml:"longterm_lifetime"`

	// MemorySweepInterval is the cadence of the in-memory eviction pass.
	MemorySweepInterval time.Duration `yaml:"memory_sweep_interval"`

	// StorageSweepInterval is the cadence of the backend bulk cleanup.
	StorageSweepInterval time.Duration `yaml:"storage_sweep_interval"`

	// SweepTimeout bounds each sweep pass's backend calls so one slow pass
	// cannot run into the next tick.
	SweepTimeout time.Duration `yaml:"sweep_timeout"`

	// TableName is the backend table or key namespace.
	TableName string `yaml:"table_name"`

	// ShardCount sets the in-memory table's shard count. Rounded up to a
	// power of two; zero selects the default.
	ShardCount int `yaml:"shard_count"`

	// AlwaysStore makes every new session storable immediately. When
	// false, sessions start non-storable until SetStorable(true), typically
	// driven by the storable consent token.
	AlwaysStore bool `yaml:"always_store"`

	// Cookie configures the client token attributes used by the HTTP
	// handler and cookie carrier.
	Cookie CookieConfig `yaml:"cookie"`
}

// CookieConfig holds client token cookie attributes.
type CookieConfig struct {
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	Secure   bool   `yaml:"secure"`
	HTTPOnly bool   `yaml:"http_only"`
	SameSite string `yaml:"same_site"` // "lax", "strict", "none" or empty
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	cfg := Config{AlwaysStore: true}
	cfg.withDefaults()
	return cfg
}

// LoadConfig reads a yaml configuration file, applies defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Config{AlwaysStore: true}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) withDefaults() {
	if c.TokenName == "" {
		c.TokenName = DefaultTokenName
	}
	if c.StorableTokenName == "" {
		c.StorableTokenName = DefaultStorableTokenName
	}
	if c.Lifetime == 0 {
		c.Lifetime = DefaultLifetime
	}
	if c.LongtermLifetime == 0 {
		c.LongtermLifetime = DefaultLongtermLifetime
	}
	if c.MemorySweepInterval == 0 {
		c.MemorySweepInterval = DefaultMemorySweepInterval
	}
	if c.StorageSweepInterval == 0 {
		c.StorageSweepInterval = DefaultStorageSweepInterval
	}
	if c.SweepTimeout == 0 {
		c.SweepTimeout = DefaultSweepTimeout
	}
	if c.TableName == "" {
		c.TableName = DefaultTableName
	}
	if c.ShardCount == 0 {
		c.ShardCount = defaultShardCount
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = "/"
	}
}

// Validate checks the configuration for values the manager cannot run with.
func (c *Config) Validate() error {
	if c.Lifetime <= 0 {
		return fmt.Errorf("config: lifetime must be positive, got %s", c.Lifetime)
	}
	if c.LongtermLifetime < c.Lifetime {
		return fmt.Errorf("config: longterm_lifetime %s is shorter than lifetime %s",
			c.LongtermLifetime, c.Lifetime)
	}
	if c.MemorySweepInterval <= 0 {
		return fmt.Errorf("config: memory_sweep_interval must be positive, got %s",
			c.MemorySweepInterval)
	}
	if c.StorageSweepInterval <= 0 {
		return fmt.Errorf("config: storage_sweep_interval must be positive, got %s",
			c.StorageSweepInterval)
	}
	if c.SweepTimeout <= 0 {
		return fmt.Errorf("config: sweep_timeout must be positive, got %s", c.SweepTimeout)
	}
	if c.TableName == "" {
		return fmt.Errorf("config: table_name must not be empty")
	}
	return nil
}

// lifetimeFor returns the expiry horizon for the given longterm policy.
func (c *Config) lifetimeFor(longterm bool) time.Duration {
	if longterm {
		return c.LongtermLifetime
	}
	return c.Lifetime
}
