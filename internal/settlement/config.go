package settlement

import (
	"time"

	appconfig "github.com/meterwise/meterwise/internal/config"
)

// Config controls settlement intervals, batch sizes, and payment policy.
type Config struct {
	RunInterval          time.Duration
	BatchSize            int
	JobTimeout           time.Duration
	RequireEnoughBalance bool
	PayerAppID           string
	EnabledJobs          []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   100,
		JobTimeout:  30 * time.Second,
		PayerAppID:  "meterwise",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.PayerAppID == "" {
		c.PayerAppID = defaults.PayerAppID
	}
	return c
}

// ProvideConfig maps the application settlement settings onto the scheduler config.
func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval:          cfg.Settlement.RunInterval,
		BatchSize:            cfg.Settlement.BatchSize,
		RequireEnoughBalance: cfg.Settlement.RequireEnoughBalance,
		PayerAppID:           cfg.Settlement.PayerAppID,
		EnabledJobs:          cfg.Settlement.EnabledJobs,
	}.withDefaults()
}
