package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/vqhuy/metergate/internal/usage"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Tokens
	TokenSecret         string
	AllowedEmailDomains []string // empty: any domain may exchange credentials

	// Providers
	OpenAIAPIKey string

	// Usage store
	UsageStore       string // "atlas" or "postgres", default: "atlas"
	AtlasBaseURL     string
	AtlasAPIKey      string
	AtlasDataSource  string
	AtlasDatabase    string
	AtlasCollection  string
	PostgresDSN      string
	QuotaLimitUSD    float64           // default: 1.00
	QuotaGranularity usage.Granularity // "month" or "day", default: "month"

	// Cache / rate limiting (optional; limiter disabled without Redis)
	RedisAddr           string
	DefaultRateLimitRPM int64 // requests per minute, default: 60

	// Proxy behavior
	UpstreamTimeoutSeconds int64 // default: 120
	MeteringEnabled        bool  // default: true

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string // default: "info"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		TokenSecret:          os.Getenv("TOKEN_SECRET"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		UsageStore:           getEnv("USAGE_STORE", "atlas"),
		AtlasBaseURL:         os.Getenv("ATLAS_DATA_API_URL"),
		AtlasAPIKey:          os.Getenv("ATLAS_API_KEY"),
		AtlasDataSource:      getEnv("ATLAS_DATA_SOURCE", "Cluster0"),
		AtlasDatabase:        getEnv("ATLAS_DATABASE", "metergate"),
		AtlasCollection:      getEnv("ATLAS_COLLECTION", "usage"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	if domains := os.Getenv("ALLOWED_EMAIL_DOMAINS"); domains != "" {
		for _, d := range strings.Split(domains, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.AllowedEmailDomains = append(cfg.AllowedEmailDomains, d)
			}
		}
	}

	limit, err := strconv.ParseFloat(getEnv("QUOTA_LIMIT_USD", "1.00"), 64)
	if err != nil || limit < 0 {
		return nil, fmt.Errorf("invalid QUOTA_LIMIT_USD: %q", os.Getenv("QUOTA_LIMIT_USD"))
	}
	cfg.QuotaLimitUSD = limit

	switch granularity := getEnv("QUOTA_GRANULARITY", "month"); granularity {
	case "month":
		cfg.QuotaGranularity = usage.GranularityMonth
	case "day":
		cfg.QuotaGranularity = usage.GranularityDay
	default:
		return nil, fmt.Errorf("invalid QUOTA_GRANULARITY: %q (want month or day)", granularity)
	}

	rpm, err := strconv.ParseInt(getEnv("DEFAULT_RATE_LIMIT_RPM", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_RPM: %w", err)
	}
	cfg.DefaultRateLimitRPM = rpm

	timeout, err := strconv.ParseInt(getEnv("UPSTREAM_TIMEOUT_SECONDS", "120"), 10, 64)
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT_SECONDS: %q", os.Getenv("UPSTREAM_TIMEOUT_SECONDS"))
	}
	cfg.UpstreamTimeoutSeconds = timeout

	metering, err := strconv.ParseBool(getEnv("METERING_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid METERING_ENABLED: %w", err)
	}
	cfg.MeteringEnabled = metering

	// Validation
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	switch cfg.UsageStore {
	case "atlas":
		if cfg.AtlasBaseURL == "" || cfg.AtlasAPIKey == "" {
			return nil, fmt.Errorf("ATLAS_DATA_API_URL and ATLAS_API_KEY are required for the atlas usage store")
		}
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required for the postgres usage store")
		}
	default:
		return nil, fmt.Errorf("invalid USAGE_STORE: %q (want atlas or postgres)", cfg.UsageStore)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
