// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/xianfeast/throttle"
)

// Config captures everything the gateway needs at startup.
type Config struct {
	ListenAddr string

	// Per-category rate limit rules.
	Auth   RuleConfig
	Browse RuleConfig
	Order  RuleConfig

	// Escalation tuning for the shared limiter.
	ViolationThreshold int
	ViolationHorizon   time.Duration
	AutoBlockDuration  time.Duration

	// TrustedProxies switches client IP extraction to the trusted-proxy
	// walk when non-empty. IPs or CIDR blocks.
	TrustedProxies []string

	// Response cache sizing.
	CacheCapacity int
	CacheTTL      time.Duration

	// CleanupInterval drives the caller-side cleanup ticker.
	CleanupInterval time.Duration

	// Redis-backed stats. When disabled, stats stay in process memory.
	RedisStats    bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RuleConfig is the env-friendly shape of a throttle.Rule.
type RuleConfig struct {
	Requests int
	Window   time.Duration
}

// Rule converts to the limiter's rule type.
func (rc RuleConfig) Rule() throttle.Rule {
	return throttle.Rule{Window: rc.Window, MaxRequests: rc.Requests}
}

// Load reads configuration from the environment, after best-effort loading
// a .env file. Defaults match the preset rules in package throttle.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr: getEnv("THROTTLE_LISTEN_ADDR", ":8080"),
	}

	var err error
	if cfg.Auth, err = loadRule("AUTH", throttle.AuthRule()); err != nil {
		return Config{}, err
	}
	if cfg.Browse, err = loadRule("BROWSE", throttle.BrowseRule()); err != nil {
		return Config{}, err
	}
	if cfg.Order, err = loadRule("ORDER", throttle.OrderRule()); err != nil {
		return Config{}, err
	}

	if cfg.ViolationThreshold, err = getEnvInt("THROTTLE_VIOLATION_THRESHOLD", throttle.DefaultViolationThreshold); err != nil {
		return Config{}, err
	}
	if cfg.ViolationHorizon, err = getEnvSeconds("THROTTLE_VIOLATION_HORIZON_SECONDS", throttle.DefaultViolationHorizon); err != nil {
		return Config{}, err
	}
	if cfg.AutoBlockDuration, err = getEnvSeconds("THROTTLE_AUTO_BLOCK_SECONDS", throttle.DefaultAutoBlockDuration); err != nil {
		return Config{}, err
	}

	if raw := strings.TrimSpace(os.Getenv("THROTTLE_TRUSTED_PROXIES")); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}

	if cfg.CacheCapacity, err = getEnvInt("THROTTLE_CACHE_CAPACITY", 1024); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = getEnvSeconds("THROTTLE_CACHE_TTL_SECONDS", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval, err = getEnvSeconds("THROTTLE_CLEANUP_INTERVAL_SECONDS", time.Minute); err != nil {
		return Config{}, err
	}

	cfg.RedisStats = getEnvBool("THROTTLE_REDIS_STATS", false)
	cfg.RedisAddr = getEnv("THROTTLE_REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("THROTTLE_REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("THROTTLE_REDIS_DB", 0); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadRule reads RATE_LIMIT_<category>_REQUESTS and
// RATE_LIMIT_<category>_WINDOW_SECONDS, defaulting to the given preset.
func loadRule(category string, preset throttle.Rule) (RuleConfig, error) {
	requests, err := getEnvInt("RATE_LIMIT_"+category+"_REQUESTS", preset.MaxRequests)
	if err != nil {
		return RuleConfig{}, err
	}
	window, err := getEnvSeconds("RATE_LIMIT_"+category+"_WINDOW_SECONDS", preset.Window)
	if err != nil {
		return RuleConfig{}, err
	}
	rc := RuleConfig{Requests: requests, Window: window}
	if err := rc.Rule().Validate(); err != nil {
		return RuleConfig{}, fmt.Errorf("invalid %s rule: %w", strings.ToLower(category), err)
	}
	return rc, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
