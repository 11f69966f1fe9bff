package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	MockInterval    time.Duration
	MetricsInterval time.Duration
	EventRingSize   int
	MetricsRingSize int
	ReadWait        time.Duration
	ArchivePath     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:            getEnv("TIDEWATCH_PORT", "8080"),
		MockInterval:    getDuration("TIDEWATCH_MOCK_INTERVAL", 3*time.Second),
		MetricsInterval: getDuration("TIDEWATCH_METRICS_INTERVAL", 2*time.Second),
		EventRingSize:   getInt("TIDEWATCH_EVENT_RING", 1000),
		MetricsRingSize: getInt("TIDEWATCH_METRICS_RING", 100),
		ReadWait:        getDuration("TIDEWATCH_READ_WAIT", 30*time.Second),
		ArchivePath:     getEnv("TIDEWATCH_ARCHIVE", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// getDuration accepts Go duration syntax ("3s", "1500ms") or a plain number
// of seconds ("3", "2.5") for compatibility with the old deployment knobs.
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return fallback
}
