package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables that are not already set. If .env does not exist,
// Load returns an error but callers can ignore it and use system env or
// defaults. Pass one or more paths to load from specific files.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration returns the duration value (e.g. "5m") of the environment
// variable named by key, or fallback if it is unset, empty, or invalid.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// Server is the configuration of the session service.
type Server struct {
	Port                   string
	LogLevel               string
	LogFormat              string
	LiveSegmentToleranceMs int
	MaxPartSizeBytes       int
	MaxChunkBytes          int
	SessionRetention       time.Duration
}

// LoadServer reads the session service configuration from the environment.
func LoadServer() Server {
	return Server{
		Port:                   GetEnv("PORT", "8080"),
		LogLevel:               GetEnv("LOG_LEVEL", "info"),
		LogFormat:              GetEnv("LOG_FORMAT", "json"),
		LiveSegmentToleranceMs: GetEnvInt("LIVE_SEGMENT_TOLERANCE_MS", 100),
		MaxPartSizeBytes:       GetEnvInt("MAX_PART_SIZE_BYTES", 16<<20),
		MaxChunkBytes:          GetEnvInt("MAX_CHUNK_BYTES", 8<<20),
		SessionRetention:       GetEnvDuration("SESSION_RETENTION", 5*time.Minute),
	}
}
