package retry

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidConfig is returned when a Config violates its invariants
var ErrInvalidConfig = errors.New("retry: invalid configuration")

// Config describes the retry policy for one retry session
type Config struct {
	MaxAttempts          int           `yaml:"max_attempts" json:"max_attempts"` // includes the first try
	InitialDelay         time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay             time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffFactor        float64       `yaml:"backoff_factor" json:"backoff_factor"`
	RetryableStatusCodes []int         `yaml:"retryable_status_codes" json:"retryable_status_codes"`

	// RetryCondition marks an error retryable even if the status code and
	// network checks did not.
	RetryCondition func(error) bool `yaml:"-" json:"-"`
}

// DefaultRetryableStatusCodes are the transport statuses treated as transient
func DefaultRetryableStatusCodes() []int {
	return []int{
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
}

// DefaultConfig returns the default retry policy
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          3,
		InitialDelay:         1000 * time.Millisecond,
		MaxDelay:             10 * time.Second,
		BackoffFactor:        2,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// PlaidConfig returns the policy used for calls to the Plaid proxy endpoints
func PlaidConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = 300 * time.Millisecond
	return cfg
}

// QuickConfig returns a policy for fast retries, useful during startup checks
func QuickConfig() Config {
	return Config{
		MaxAttempts:          10,
		InitialDelay:         50 * time.Millisecond,
		MaxDelay:             1 * time.Second,
		BackoffFactor:        1.5,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// ApplyDefaults fills zero-valued fields from DefaultConfig
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = def.MaxDelay
		if c.MaxDelay < c.InitialDelay {
			c.MaxDelay = c.InitialDelay
		}
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.RetryableStatusCodes == nil {
		c.RetryableStatusCodes = def.RetryableStatusCodes
	}
}

// Validate checks the policy invariants
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("%w: initial_delay must be positive, got %v", ErrInvalidConfig, c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("%w: max_delay (%v) must be >= initial_delay (%v)", ErrInvalidConfig, c.MaxDelay, c.InitialDelay)
	}
	if c.BackoffFactor <= 1 {
		return fmt.Errorf("%w: backoff_factor must be greater than 1, got %g", ErrInvalidConfig, c.BackoffFactor)
	}
	return nil
}

// IsRetryableStatus reports whether code is in the retryable status set
func (c Config) IsRetryableStatus(code int) bool {
	for _, s := range c.RetryableStatusCodes {
		if s == code {
			return true
		}
	}
	return false
}
