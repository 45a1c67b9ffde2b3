package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries the knobs for both the backend and the sync layer. Client
// binaries only read the Client* fields; the server reads the rest.
type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	// Storage. Driver is "sqlite" or "postgres".
	DBDriver string
	DBDSN    string

	JWTSecret          string
	AccessTokenMinutes int
	CORSOrigins        []string
	Debug              bool

	// Feed / notification tuning.
	PageSize        int
	NotificationCap int

	// Sync-layer timing.
	TypingTTL         time.Duration
	TypingDebounce    time.Duration
	OptimisticTimeout time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration

	// Client-side local snapshot (notifications/settings).
	ClientSnapshotPath string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName: getEnv("APP_NAME", "Engage API"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDSN:    getEnv("DB_DSN", "engage.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		Debug:              getEnvAsBool("DEBUG", true),

		PageSize:        getEnvAsInt("FEED_PAGE_SIZE", 50),
		NotificationCap: getEnvAsInt("NOTIFICATION_CAP", 50),

		TypingTTL:         getEnvAsDuration("TYPING_TTL", 3*time.Second),
		TypingDebounce:    getEnvAsDuration("TYPING_DEBOUNCE", 2*time.Second),
		OptimisticTimeout: getEnvAsDuration("OPTIMISTIC_TIMEOUT", 15*time.Second),
		ReconnectMin:      getEnvAsDuration("RECONNECT_MIN", 500*time.Millisecond),
		ReconnectMax:      getEnvAsDuration("RECONNECT_MAX", 30*time.Second),

		ClientSnapshotPath: getEnv("CLIENT_SNAPSHOT_PATH", "engage-local.db"),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
