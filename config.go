package flowwork

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the driver and its worker pool.
type Config struct {
	// Concurrency is the maximum number of runs ticked concurrently.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is how often the pool looks for due runs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LeaseDuration is how long a claimed run stays owned by one pool.
	// It must comfortably exceed TickTimeout.
	LeaseDuration time.Duration `yaml:"lease_duration"`

	// TickTimeout bounds a single tick. Zero disables the deadline.
	TickTimeout time.Duration `yaml:"tick_timeout"`

	// ShutdownTimeout is the maximum time to wait for in-flight ticks.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TickRate is the sustained number of ticks per second per run name.
	// Zero disables rate limiting.
	TickRate float64 `yaml:"tick_rate"`

	// TickBurst is the token-bucket burst for TickRate.
	TickBurst int `yaml:"tick_burst"`

	// MaxWaitBackoff caps the delay between ticks of a waiting run.
	MaxWaitBackoff time.Duration `yaml:"max_wait_backoff"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		PollInterval:    1 * time.Second,
		LeaseDuration:   2 * time.Minute,
		TickTimeout:     30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxWaitBackoff:  5 * time.Minute,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	case c.LeaseDuration <= 0:
		return fmt.Errorf("%w: lease_duration must be positive", ErrInvalidConfig)
	case c.TickTimeout < 0:
		return fmt.Errorf("%w: tick_timeout must not be negative", ErrInvalidConfig)
	case c.TickTimeout > 0 && c.LeaseDuration <= c.TickTimeout:
		return fmt.Errorf("%w: lease_duration must exceed tick_timeout", ErrInvalidConfig)
	case c.TickRate < 0:
		return fmt.Errorf("%w: tick_rate must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig decodes YAML from r over DefaultConfig and validates the
// result. Durations use Go syntax ("1s", "2m").
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
