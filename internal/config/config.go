package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// ProxyAPIKey, when set, must be presented as a bearer token on every
	// connection proxy call.
	ProxyAPIKey string

	Logger    LoggerConfig
	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Gateway     GatewayConfig
	Integration IntegrationConfig
	RateLimit   RateLimitConfig
	Reconciler  ReconcilerConfig
}

type LoggerConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TelemetryConfig drives the otel trace and metric exporters. Both stay
// off unless OTEL_ENABLED is set.
type TelemetryConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

// GatewayConfig describes the uazapi deployment this service proxies to.
type GatewayConfig struct {
	BaseURL     string
	AdminToken  string
	SystemName  string
	Timeout     time.Duration
	InstanceTag string
}

type IntegrationConfig struct {
	// TokenSecret seals gateway tokens at rest. Tokens are stored as-is when empty.
	TokenSecret string
}

type RateLimitConfig struct {
	Enabled        bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	PairingRate    float64
	PairingBurst   int
	PairingLockTTL time.Duration
}

type ReconcilerConfig struct {
	Enabled   bool
	Schedule  string
	Workers   int
	BatchSize int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "mordomozap"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		ProxyAPIKey: strings.TrimSpace(getenv("PROXY_API_KEY", "")),
		Logger: LoggerConfig{
			Level:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			Format:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			File:       strings.TrimSpace(getenv("LOG_FILE", "")),
			MaxSizeMB:  getenvInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: getenvInt("LOG_FILE_MAX_BACKUPS", 5),
			MaxAgeDays: getenvInt("LOG_FILE_MAX_AGE_DAYS", 14),
		},
		Telemetry: TelemetryConfig{
			Enabled:       getenvBool("OTEL_ENABLED", false),
			Endpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			Protocol:      otlpProtocol(),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "mordomozap.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME_SECONDS", 60),
		Gateway: GatewayConfig{
			BaseURL:     strings.TrimRight(getenv("UAZAPI_BASE_URL", "https://free.uazapi.com"), "/"),
			AdminToken:  strings.TrimSpace(getenv("UAZAPI_ADMIN_TOKEN", "")),
			SystemName:  getenv("UAZAPI_SYSTEM_NAME", "apilocal"),
			Timeout:     getenvDuration("UAZAPI_TIMEOUT", 15*time.Second),
			InstanceTag: getenv("UAZAPI_INSTANCE_PREFIX", "mordomozap"),
		},
		Integration: IntegrationConfig{
			TokenSecret: strings.TrimSpace(getenv("INTEGRATION_TOKEN_SECRET", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:      strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			RedisPassword:  strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			RedisDB:        getenvInt("REDIS_DB", 0),
			PairingRate:    getenvFloat("PAIRING_RATE_PER_SECOND", 0.2),
			PairingBurst:   getenvInt("PAIRING_BURST", 3),
			PairingLockTTL: getenvDuration("PAIRING_LOCK_TTL", 45*time.Second),
		},
		Reconciler: ReconcilerConfig{
			Enabled:   getenvBool("RECONCILER_ENABLED", true),
			Schedule:  getenv("RECONCILER_SCHEDULE", "@every 2m"),
			Workers:   getenvInt("RECONCILER_WORKERS", 8),
			BatchSize: getenvInt("RECONCILER_BATCH_SIZE", 200),
		},
	}

	return cfg
}

// otlpProtocol lets the traces-specific variable override the shared one.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return strings.ToLower(strings.TrimSpace(protocol))
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
