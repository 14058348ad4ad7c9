// Package config holds the tunable settings for a node. Defaults are safe
// for a production deployment; every setting can be overridden through an
// EMBER_* environment variable, with invalid values logged and ignored.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/embermesh/emberdht/envelope"
)

// Bounds on the override values accepted from the environment.
const (
	MinBroadcastFanout = 1
	MaxBroadcastFanout = 64

	MinWorkers = 1
	MaxWorkers = 128

	MinCacheCapacity = 1
	MaxCacheCapacity = 1_000_000
)

// Config carries every tunable for a node. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// Network tags every outbound envelope and filters every inbound one.
	Network envelope.Network

	// BroadcastFanout is the neighbor count for propagated messages.
	BroadcastFanout int

	// CacheRetention and CacheCapacity bound the store-and-forward cache.
	CacheRetention time.Duration
	CacheCapacity  int

	// SweepInterval is how often expired cached messages are evicted.
	SweepInterval time.Duration

	// MaxEnvelopeSize rejects oversized inbound envelopes before decoding.
	MaxEnvelopeSize int

	// Workers is the size of the inbound processing pool.
	Workers int

	// DedupTTL is how long seen envelope digests are remembered.
	DedupTTL time.Duration
}

// DefaultConfig returns the production defaults with environment overrides
// applied.
func DefaultConfig() Config {
	cfg := Config{
		Network:         envelope.NetworkMain,
		BroadcastFanout: 8,
		CacheRetention:  24 * time.Hour,
		CacheCapacity:   10000,
		SweepInterval:   10 * time.Minute,
		MaxEnvelopeSize: envelope.DefaultMaxSize,
		Workers:         4,
		DedupTTL:        5 * time.Minute,
	}
	applyEnvironmentOverrides(&cfg)
	return cfg
}

// applyEnvironmentOverrides updates cfg from EMBER_* environment variables.
func applyEnvironmentOverrides(cfg *Config) {
	parseNetworkSetting(cfg)
	parseIntSetting("EMBER_BROADCAST_FANOUT", &cfg.BroadcastFanout, MinBroadcastFanout, MaxBroadcastFanout)
	parseIntSetting("EMBER_CACHE_CAPACITY", &cfg.CacheCapacity, MinCacheCapacity, MaxCacheCapacity)
	parseIntSetting("EMBER_WORKERS", &cfg.Workers, MinWorkers, MaxWorkers)
	parseDurationSetting("EMBER_CACHE_RETENTION", &cfg.CacheRetention)
	parseDurationSetting("EMBER_SWEEP_INTERVAL", &cfg.SweepInterval)
	parseDurationSetting("EMBER_DEDUP_TTL", &cfg.DedupTTL)
}

// parseNetworkSetting updates Network from EMBER_NETWORK. Accepted values
// are "main", "test" and "localtest".
func parseNetworkSetting(cfg *Config) {
	value := os.Getenv("EMBER_NETWORK")
	if value == "" {
		return
	}
	switch value {
	case "main":
		cfg.Network = envelope.NetworkMain
	case "test":
		cfg.Network = envelope.NetworkTest
	case "localtest":
		cfg.Network = envelope.NetworkLocalTest
	default:
		logrus.WithFields(logrus.Fields{
			"env_var": "EMBER_NETWORK",
			"value":   value,
		}).Warn("Unknown network name, using default")
	}
}

// parseIntSetting updates target from an integer environment variable,
// enforcing [min, max].
func parseIntSetting(name string, target *int, min, max int) {
	value := os.Getenv(name)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"env_var":     name,
			"value":       value,
			"error":       err.Error(),
			"using_value": *target,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if parsed < min || parsed > max {
		logrus.WithFields(logrus.Fields{
			"env_var":     name,
			"value":       parsed,
			"min":         min,
			"max":         max,
			"using_value": *target,
		}).Warn("Environment variable out of bounds, using default")
		return
	}
	*target = parsed
}

// parseDurationSetting updates target from a Go duration string such as
// "30m" or "12h". Non-positive durations are rejected.
func parseDurationSetting(name string, target *time.Duration) {
	value := os.Getenv(name)
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"env_var":     name,
			"value":       value,
			"error":       err.Error(),
			"using_value": target.String(),
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if parsed <= 0 {
		logrus.WithFields(logrus.Fields{
			"env_var":     name,
			"value":       value,
			"using_value": target.String(),
		}).Warn("Duration must be positive, using default")
		return
	}
	*target = parsed
}
