package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.HealthPort == 0 {
		cfg.Server.HealthPort = 9090
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(10 * time.Minute)
	}
	if cfg.Cache.LocalSize == 0 {
		cfg.Cache.LocalSize = 1000
	}
	if cfg.Resilience.Breaker.FailureThreshold == 0 {
		cfg.Resilience.Breaker.FailureThreshold = 5
	}
	if cfg.Resilience.Breaker.RecoveryTimeout == 0 {
		cfg.Resilience.Breaker.RecoveryTimeout = Duration(30 * time.Second)
	}
	if cfg.Resilience.Breaker.HalfOpenMaxCalls == 0 {
		cfg.Resilience.Breaker.HalfOpenMaxCalls = 1
	}
	if cfg.Resilience.Retry.MaxAttempts == 0 {
		cfg.Resilience.Retry.MaxAttempts = 3
	}
	if cfg.Resilience.Retry.InitialDelay == 0 {
		cfg.Resilience.Retry.InitialDelay = Duration(500 * time.Millisecond)
	}
	if cfg.Resilience.Retry.MaxDelay == 0 {
		cfg.Resilience.Retry.MaxDelay = Duration(30 * time.Second)
	}
	if cfg.Resilience.Timeout.DefaultBudget == 0 {
		cfg.Resilience.Timeout.DefaultBudget = Duration(60 * time.Second)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Timeout == 0 {
			p.Timeout = Duration(60 * time.Second)
		}
		if p.RateLimit.Window == 0 {
			p.RateLimit.Window = Duration(time.Minute)
		}
		if p.RateLimit.MaxRequests == 0 {
			p.RateLimit.MaxRequests = 30
		}
		if p.RateLimit.MaxWait == 0 {
			p.RateLimit.MaxWait = Duration(5 * time.Second)
		}
	}
}

func validate(cfg *AppConfig) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		if !p.Name.IsKnown() {
			return fmt.Errorf("config: unknown provider %q", p.Name)
		}
		if seen[p.Name.String()] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name.String()] = true
		if p.APIKey == "" {
			return fmt.Errorf("config: provider %q has no api_key", p.Name)
		}
	}
	lists := []struct {
		name string
		ids  []domain.ProviderID
	}{
		{"meta_providers", cfg.Pipeline.MetaProviders},
		{"hyper_priority", cfg.Pipeline.HyperPriority},
		{"ultra_priority", cfg.Pipeline.UltraPriority},
		{"fallback_order", cfg.Pipeline.FallbackOrder},
	}
	for _, list := range lists {
		for _, id := range list.ids {
			if !seen[id.String()] {
				return fmt.Errorf("config: %s names unconfigured provider %q", list.name, id)
			}
		}
	}
	return nil
}
