package reconciler

import (
	"strings"

	"github.com/smallbiznis/mordomozap/internal/config"
)

// Config controls how often connected integrations are re-checked.
type Config struct {
	Enabled   bool
	Schedule  string
	Workers   int
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Schedule:  "@every 2m",
		Workers:   8,
		BatchSize: 200,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:   cfg.Reconciler.Enabled,
		Schedule:  cfg.Reconciler.Schedule,
		Workers:   cfg.Reconciler.Workers,
		BatchSize: cfg.Reconciler.BatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = defaults.Schedule
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}
