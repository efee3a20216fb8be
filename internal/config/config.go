package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr            string
	RedisURL            string
	APIKeys             []string
	StaleJobInterval    time.Duration
	DefaultClaimTimeout int // seconds
	DefaultMaxRetries   int
	JobMetaTTL          time.Duration
	RateLimitPerMinute  int
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
		slog.Warn("bad int env, using default", "key", key, "value", v)
	}
	return def
}

// splitKeys parses the comma-separated STARQ_API_KEYS value. Empty entries
// are dropped; an empty result disables auth entirely.
func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	// try to find .env files starting from current directory and going up
	currentDir, err := os.Getwd()
	if err != nil {
		slog.Debug("failed to get current directory", "error", err)
		return
	}

	searchDirs := []string{currentDir}
	for i := 0; i < 3; i++ {
		parent := filepath.Dir(currentDir)
		if parent == currentDir {
			break // reached root
		}
		searchDirs = append(searchDirs, parent)
		currentDir = parent
	}

	loadedAny := false
	for _, dir := range searchDirs {
		for _, envFile := range envFiles {
			envPath := filepath.Join(dir, envFile)
			if _, err := os.Stat(envPath); err == nil {
				if err := godotenv.Load(envPath); err == nil {
					slog.Debug("loaded environment file", "path", envPath)
					loadedAny = true
				} else {
					slog.Debug("failed to load environment file", "path", envPath, "error", err)
				}
			}
		}
		if loadedAny {
			break
		}
	}

	if !loadedAny {
		slog.Debug("no .env files found, using system environment variables only")
	}
}

func Load() Config {
	loadEnvFiles()
	return Config{
		HTTPAddr:            getenv("HTTP_ADDR", ":8000"),
		RedisURL:            getenv("REDIS_URL", "redis://localhost:6379/0"),
		APIKeys:             splitKeys(getenv("STARQ_API_KEYS", "")),
		StaleJobInterval:    time.Duration(mustInt("STALE_JOB_INTERVAL", 30)) * time.Second,
		DefaultClaimTimeout: mustInt("DEFAULT_CLAIM_TIMEOUT", 300),
		DefaultMaxRetries:   mustInt("DEFAULT_MAX_RETRIES", 3),
		JobMetaTTL:          time.Duration(mustInt("JOB_META_TTL", 86400*7)) * time.Second,
		RateLimitPerMinute:  mustInt("RATE_LIMIT_PER_MINUTE", 600),
	}
}
