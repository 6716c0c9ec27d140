package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values. It is constructed once at
// startup and passed into the constructors that need it; components never
// read the environment themselves.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	MeliBaseURL          string
	MeliAuthURL          string
	MeliClientID         string
	MeliClientSecret     string
	MeliRedirectURI      string
	TokenEncryptionKey   string
	HTTPClientTimeout    time.Duration
	ShutdownTimeout      time.Duration
	AuthStateTTL         time.Duration
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		MeliBaseURL:          getEnv("MELI_API_BASE_URL", "https://api.mercadolibre.com"),
		MeliAuthURL:          getEnv("MELI_AUTH_URL", "https://auth.mercadolibre.com.ar/authorization"),
		MeliClientID:         strings.TrimSpace(os.Getenv("MELI_CLIENT_ID")),
		MeliClientSecret:     strings.TrimSpace(os.Getenv("MELI_CLIENT_SECRET")),
		MeliRedirectURI:      strings.TrimSpace(os.Getenv("MELI_REDIRECT_URI")),
		TokenEncryptionKey:   strings.TrimSpace(os.Getenv("TOKEN_ENCRYPTION_KEY")),
		HTTPClientTimeout:    getDuration("HTTP_CLIENT_TIMEOUT", 10*time.Second),
		ShutdownTimeout:      getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		AuthStateTTL:         getDuration("AUTH_STATE_TTL", 10*time.Minute),
		ServiceName:          getEnv("SERVICE_NAME", "meli-auth"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MeliClientID == "" {
		return Config{}, fmt.Errorf("MELI_CLIENT_ID is required")
	}
	if cfg.MeliClientSecret == "" {
		return Config{}, fmt.Errorf("MELI_CLIENT_SECRET is required")
	}
	if cfg.TokenEncryptionKey == "" {
		return Config{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
