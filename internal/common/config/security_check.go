package config

import (
	"strings"

	"go.uber.org/zap"
)

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}

// ProductionWarnings returns the list of insecure settings detected for a
// production deployment
func (c *Config) ProductionWarnings() []string {
	var warnings []string

	if strings.Contains(c.DatabaseURL, "riskgate_secret") {
		warnings = append(warnings, "database_url uses the default development password")
	}
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		warnings = append(warnings, "database_url has TLS disabled")
	}
	if strings.Contains(c.RedisURL, "redis_secret") {
		warnings = append(warnings, "redis_url uses the default development password")
	}
	if c.CORSAllowedOrigins == "*" {
		warnings = append(warnings, "cors_allowed_origins allows any origin")
	}
	if !c.EnableRateLimit {
		warnings = append(warnings, "rate limiting is disabled")
	}

	return warnings
}
