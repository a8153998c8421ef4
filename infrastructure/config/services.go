package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadServicesConfig loads the scheduled-job toggle configuration from
// config/services.yaml.
func LoadServicesConfig() (*ServicesConfig, error) {
	return LoadServicesConfigFromPath(filepath.Join("config", "services.yaml"))
}

// LoadServicesConfigFromPath loads the services configuration from a specific path.
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	for id, settings := range cfg.Services {
		if settings.Port == 0 {
			return nil, fmt.Errorf("service %s: port is required", id)
		}
	}

	return &cfg, nil
}

// LoadServicesConfigOrDefault loads services config or returns the default
// (every cron job enabled) when the file is not found.
func LoadServicesConfigOrDefault() *ServicesConfig {
	cfg, err := LoadServicesConfig()
	if err != nil {
		return DefaultServicesConfig()
	}
	return cfg
}

// DefaultServicesConfig returns the default toggle configuration for every
// scheduled job named in the cron scheduler's cadence table. Port is unused
// for jobs (they have no listener) but kept non-zero so config validation
// accepts a hand-edited services.yaml that mixes jobs with future HTTP
// sub-services.
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Services: map[string]*ServiceSettings{
			"invariant-engine": {
				Enabled:     true,
				Port:        1,
				Description: "periodic integrity checks and drift scoring",
			},
			"performance-engine": {
				Enabled:     true,
				Port:        1,
				Description: "latency, memory-trend, and overload-risk sampling",
			},
			"security-engine": {
				Enabled:     true,
				Port:        1,
				Description: "pattern scanner and rate-limiter/brute-force cleanup",
			},
			"health-scorer": {
				Enabled:     true,
				Port:        1,
				Description: "weighted health score and safe-mode evaluation",
			},
			"backup-validation": {
				Enabled:     true,
				Port:        1,
				Description: "nightly backup restore-test validation",
			},
			"executive-report": {
				Enabled:     true,
				Port:        1,
				Description: "daily executive summary generation",
			},
			"idempotency-cleanup": {
				Enabled:     true,
				Port:        1,
				Description: "garbage-collects expired idempotency records",
			},
			"ratelimiter-cleanup": {
				Enabled:     true,
				Port:        1,
				Description: "prunes stale sliding-window rate-limiter entries",
			},
		},
	}
}
