package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and cache configuration
//   - aws.go: Queue, storage, and topic configuration
//   - services.go: Service mode and worker configuration
type AppConfig struct {
	// IsDev controls development mode behavior (pretty logging, relaxed
	// guardrails). Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// AWS-backed infrastructure configuration
	AWS AWSConfig `envPrefix:"AWS_"`

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"request-worker"`

	// Worker configuration
	Worker  WorkerConfig
	Request RequestWorkerConfig
	Archive ArchiveWorkerConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.AWS.Sanitize()
	c.Worker.Sanitize()
	c.Request.Sanitize()
	c.Archive.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsRequestWorkerEnabled returns true if the request worker service is enabled.
func (c *AppConfig) IsRequestWorkerEnabled() bool {
	return c.isEnabled(ServiceModeRequestWorker)
}

// IsArchiveWorkerEnabled returns true if the archive worker service is enabled.
func (c *AppConfig) IsArchiveWorkerEnabled() bool {
	return c.isEnabled(ServiceModeArchiveWorker)
}

// IsRestoreWorkerEnabled returns true if the restore worker service is enabled.
func (c *AppConfig) IsRestoreWorkerEnabled() bool {
	return c.isEnabled(ServiceModeRestoreWorker)
}

// IsThawWorkerEnabled returns true if the thaw worker service is enabled.
func (c *AppConfig) IsThawWorkerEnabled() bool {
	return c.isEnabled(ServiceModeThawWorker)
}

func (c *AppConfig) isEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
