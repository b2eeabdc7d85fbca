package scheduler

import (
	"time"

	appconfig "github.com/smallbiznis/paymirror/internal/config"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval      time.Duration
	BatchSize        int
	StaleAfter       time.Duration
	ReconcileTimeout time.Duration
	AutoSyncEnabled  bool
	AutoSyncInterval time.Duration
	SyncTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		BatchSize:        25,
		StaleAfter:       15 * time.Minute,
		ReconcileTimeout: 30 * time.Second,
		AutoSyncEnabled:  false,
		AutoSyncInterval: 6 * time.Hour,
		SyncTimeout:      10 * time.Minute,
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
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = defaults.ReconcileTimeout
	}
	if c.AutoSyncInterval <= 0 {
		c.AutoSyncInterval = defaults.AutoSyncInterval
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = defaults.SyncTimeout
	}
	return c
}

// ProvideConfig maps the application sweeper settings onto the scheduler config.
func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval:      cfg.Sweeper.RunInterval,
		BatchSize:        cfg.Sweeper.BatchSize,
		StaleAfter:       cfg.Sweeper.StaleAfter,
		AutoSyncEnabled:  cfg.Sweeper.AutoSyncEnabled,
		AutoSyncInterval: cfg.Sweeper.AutoSyncInterval,
	}.withDefaults()
}
