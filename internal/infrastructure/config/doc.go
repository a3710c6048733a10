// Package config provides layered configuration for tabcore.
//
// Values are resolved in order, each layer overriding the previous one:
//   - Default(): built-in budgets and timings
//   - an optional YAML (.yaml/.yml) or TOML (.toml) file
//   - environment variables, after a .env file is loaded if present
//
// Configuration Sections:
//   - Server: HTTP listener and CORS origins
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting
//   - Memory: RSS thresholds, poll interval, per-tab heap limits
//   - Hibernation: storage dir, compression, quota, eviction cadence
//   - Watchdog: heartbeat ping, grace and timeout
//   - Engine: script timeout, pool size, page fetch settings
//
// Example Usage:
//
//	cfg, err := config.Load("tabcore.yaml")
//	if err != nil {
//		return err
//	}
//	fmt.Println(cfg.Addr())
//
// Environment Variables (nested keys also accept the section prefix,
// e.g. HIBERNATION_DIR or MEMORY_RSS_HARD_BYTES):
//   - PORT, HOST, CORS_ORIGINS, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - RSS_SOFT_BYTES, RSS_HARD_BYTES, RSS_CRITICAL_BYTES, RSS_POLL_INTERVAL
//   - HEAP_SOFT_BYTES, HEAP_HARD_BYTES
//   - HIBERNATION_DIR, HIBERNATION_LEVEL, HIBERNATION_MAX_IDLE, ...
//   - WATCHDOG_PING_INTERVAL, WATCHDOG_GRACE, WATCHDOG_TIMEOUT
//   - ENGINE_TIMEOUT, ENGINE_POOL_SIZE, ENGINE_FETCH_TIMEOUT, ENGINE_USER_AGENT
package config
