// Package config loads the proxy configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/finboard/proxy-common/ratelimit"
	"github.com/finboard/proxy-common/retry"
)

const (
	DefaultConfigFile = "proxy_config.yaml"
	defaultPolicyName = "default"

	// PolicyPlaid names the policy used for the Plaid proxy
	PolicyPlaid = "plaid"
	// PolicyDatabase names the policy passed to pgretry.WithPolicy
	PolicyDatabase = "database"
)

// Config is the root of the proxy configuration file
type Config struct {
	HTTP       HTTPConfig                     `yaml:"http" json:"http"`
	Retry      RetryConfig                    `yaml:"retry" json:"retry"`
	RateLimits map[string]ratelimit.RateLimit `yaml:"rate_limits" json:"rate_limits"`
	Plaid      PlaidConfig                    `yaml:"plaid" json:"plaid"`
	Sync       SyncConfig                     `yaml:"sync" json:"sync"`
	Metrics    MetricsConfig                  `yaml:"metrics" json:"metrics"`
	Log        LogConfig                      `yaml:"log" json:"log"`
}

// HTTPConfig holds transport timeouts
type HTTPConfig struct {
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// RetryConfig holds the default policy and per-upstream overrides
type RetryConfig struct {
	Default  PolicyConfig            `yaml:"default" json:"default"`
	Policies map[string]PolicyConfig `yaml:"policies" json:"policies"`
}

// PolicyConfig is a retry policy as written in the config file
type PolicyConfig struct {
	retry.Config `yaml:",inline"`
	// RetryOnMessages marks errors whose message contains any entry as retryable
	RetryOnMessages []string `yaml:"retry_on_messages" json:"retry_on_messages"`
}

// PlaidConfig points at the serverless Plaid proxy
type PlaidConfig struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	ChunkSize int    `yaml:"chunk_size" json:"chunk_size"` // account ids per transactions request
}

// SyncConfig controls the periodic transaction sync
type SyncConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Addr      string `yaml:"addr" json:"addr"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // json|text
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.HTTP.ConnectionTimeout == 0 {
		c.HTTP.ConnectionTimeout = 10 * time.Second
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}

	c.Retry.Default.ApplyDefaults()
	if c.Retry.Policies == nil {
		c.Retry.Policies = make(map[string]PolicyConfig)
	}
	if _, ok := c.Retry.Policies[PolicyPlaid]; !ok {
		c.Retry.Policies[PolicyPlaid] = PolicyConfig{
			Config: retry.Config{InitialDelay: retry.PlaidConfig().InitialDelay},
		}
	}
	if _, ok := c.Retry.Policies[PolicyDatabase]; !ok {
		// database errors carry no transport status
		c.Retry.Policies[PolicyDatabase] = PolicyConfig{
			Config: retry.Config{RetryableStatusCodes: []int{}},
		}
	}

	if c.Plaid.BaseURL == "" {
		c.Plaid.BaseURL = "http://localhost:8888/api/plaid"
	}
	if c.Plaid.ChunkSize == 0 {
		c.Plaid.ChunkSize = 50
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 15 * time.Minute
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks the configuration after defaults were applied
func (c *Config) Validate() error {
	if err := c.Retry.Default.Validate(); err != nil {
		return fmt.Errorf("retry.default: %w", err)
	}
	for name := range c.Retry.Policies {
		if err := c.Policy(name).Validate(); err != nil {
			return fmt.Errorf("retry.policies.%s: %w", name, err)
		}
	}
	for upstream, rl := range c.RateLimits {
		if rl.RateLimitPerMinute < 0 || rl.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: values must not be negative", upstream)
		}
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %v", c.Sync.Interval)
	}
	return nil
}

// Policy returns the named retry policy merged over the default policy.
// Unknown names return the default policy.
func (c *Config) Policy(name string) retry.Config {
	base := c.Retry.Default
	base.ApplyDefaults()

	policy, ok := c.Retry.Policies[name]
	if name == defaultPolicyName || !ok {
		return base.build()
	}

	merged := base
	if policy.MaxAttempts != 0 {
		merged.MaxAttempts = policy.MaxAttempts
	}
	if policy.InitialDelay != 0 {
		merged.InitialDelay = policy.InitialDelay
	}
	if policy.MaxDelay != 0 {
		merged.MaxDelay = policy.MaxDelay
	}
	if policy.BackoffFactor != 0 {
		merged.BackoffFactor = policy.BackoffFactor
	}
	if policy.RetryableStatusCodes != nil {
		merged.RetryableStatusCodes = policy.RetryableStatusCodes
	}
	if policy.RetryOnMessages != nil {
		merged.RetryOnMessages = policy.RetryOnMessages
	}
	return merged.build()
}

func (p PolicyConfig) build() retry.Config {
	cfg := p.Config
	if len(p.RetryOnMessages) > 0 {
		cfg.RetryCondition = retry.MessageContains(p.RetryOnMessages...)
	}
	return cfg
}

// Validate checks the policy after its condition has been built
func (p PolicyConfig) Validate() error {
	return p.build().Validate()
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadFromFile reads a YAML file, applies defaults and validates it
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from the CONFIG_FILE environment variable
// or from the default path, then applies environment overrides.
// A missing default file is not an error.
func Load() (*Config, error) {
	configFile := os.Getenv("CONFIG_FILE")

	var cfg *Config
	switch {
	case configFile != "":
		loaded, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		loaded, err := LoadFromFile(DefaultConfigFile)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			loaded = Default()
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides selected values from PROXY_* environment variables
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PROXY_PLAID_BASE_URL"); v != "" {
		c.Plaid.BaseURL = v
	}
	if v := os.Getenv("PROXY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PROXY_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("PROXY_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PROXY_RETRY_MAX_ATTEMPTS: %w", err)
		}
		c.Retry.Default.MaxAttempts = n
	}
	if v := os.Getenv("PROXY_RETRY_INITIAL_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PROXY_RETRY_INITIAL_DELAY: %w", err)
		}
		c.Retry.Default.InitialDelay = d
	}
	if v := os.Getenv("PROXY_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PROXY_SYNC_INTERVAL: %w", err)
		}
		c.Sync.Interval = d
	}
	return nil
}
