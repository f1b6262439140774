// Package config provides 12-factor configuration for the rewriting proxy
// and its command line tools.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
// Eligibility rules live in an optional rules file (YAML, TOML or JSON,
// chosen by extension) named by RULES_FILE.
//
// Configuration Sections:
//   - Server: HTTP listener, CORS and shutdown settings
//   - Upstream: origin site, timeouts, retries and breaker
//   - Loader: activation timeout of the deferred loader
//   - Rules: path of the eligibility rules file
//   - Sandbox: pool of script runtimes used by simulations
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	rules, err := config.LoadRules(cfg.Rules.File)
//
// Environment Variables:
//   - PORT, HOST, CORS_ORIGINS, SHUTDOWN_TIMEOUT
//   - UPSTREAM_URL, UPSTREAM_TIMEOUT, UPSTREAM_RETRIES, UPSTREAM_RPS,
//     UPSTREAM_MAX_BODY, UPSTREAM_BREAKER_FAILURES
//   - LOADER_TIMEOUT, RULES_FILE
//   - SANDBOX_POOL_SIZE, SANDBOX_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
