package config

import (
	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/infra/cache"
	"github.com/quorumlabs/quorum/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Providers  []ProviderConfig   `yaml:"providers"`
	Pipeline   PipelineConfig     `yaml:"pipeline"`
	Resilience ResilienceConfig   `yaml:"resilience"`
	Cache      CacheConfig        `yaml:"cache"`
	Redis      cache.SharedConfig `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port       int `yaml:"port"`
	HealthPort int `yaml:"health_port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ProviderConfig holds settings for one completion backend.
type ProviderConfig struct {
	Name      domain.ProviderID `yaml:"name"`
	BaseURL   string            `yaml:"base_url"`
	APIKey    string            `yaml:"api_key"`
	Model     string            `yaml:"model"`
	Timeout   Duration          `yaml:"timeout"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
}

// RateLimitConfig bounds one provider's request window.
type RateLimitConfig struct {
	Window      Duration `yaml:"window"`
	MaxRequests int      `yaml:"max_requests"`
	MaxWait     Duration `yaml:"max_wait"`
}

// PipelineConfig shapes the default synthesis pattern.
type PipelineConfig struct {
	MetaProviders []domain.ProviderID `yaml:"meta_providers"`
	HyperPriority []domain.ProviderID `yaml:"hyper_priority"`
	UltraPriority []domain.ProviderID `yaml:"ultra_priority"`
	FallbackOrder []domain.ProviderID `yaml:"fallback_order"`
}

// ResilienceConfig tunes the dispatch stack.
type ResilienceConfig struct {
	Breaker BreakerConfig `yaml:"breaker"`
	Retry   RetryConfig   `yaml:"retry"`
	Timeout TimeoutConfig `yaml:"timeout"`
}

// BreakerConfig tunes the per-provider circuits.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int      `yaml:"half_open_max_calls"`
}

// RetryConfig tunes the backoff executor.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// TimeoutConfig tunes the per-operation budgets.
type TimeoutConfig struct {
	DefaultBudget Duration            `yaml:"default_budget"`
	Budgets       map[string]Duration `yaml:"budgets"`
	Adaptive      bool                `yaml:"adaptive"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTL       Duration `yaml:"ttl"`
	LocalSize int      `yaml:"local_size"`
}
