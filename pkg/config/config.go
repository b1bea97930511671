package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port            string
		Env             string
		ShutdownTimeout time.Duration
		GRPCPort        string
	}

	Database struct {
		Host           string
		Port           string
		User           string
		Password       string
		Name           string
		SSLMode        string
		MaxConns       int
		ConnectRetries int
		RetryDelay     time.Duration
	}

	JWT struct {
		Secret string
		Expiry time.Duration
		Issuer string
	}

	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	Logging struct {
		Level  string
		Format string
	}

	// Realtime configures the websocket gateway
	Realtime struct {
		RequireAuth   bool
		StoreTimeout  time.Duration
		EventRate     float64
		EventBurst    int
		SendBuffer    int
		MaxFrameBytes int64
	}

	History struct {
		PageSize    int
		MaxPageSize int
	}

	Redis struct {
		URL      string
		Password string
		DB       int
	}

	Cache struct {
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	Breaker struct {
		Failures     uint
		RetryTimeout time.Duration
	}

	Observability struct {
		TracingEnabled bool
		ServiceName    string
	}

	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
	}

	OpenAPI struct {
		SchemaPath string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process wide Config, loading it from the environment on first use
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})
	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "5000")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "")

	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "music-stream")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.ConnectRetries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.Database.RetryDelay = getEnvDuration("DB_RETRY_DELAY", 5*time.Second)

	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)
	cfg.JWT.Issuer = getEnvString("JWT_ISSUER", "")

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"})

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Realtime.RequireAuth = getEnvBool("REALTIME_REQUIRE_AUTH", true)
	cfg.Realtime.StoreTimeout = getEnvDuration("REALTIME_STORE_TIMEOUT", 10*time.Second)
	cfg.Realtime.EventRate = getEnvFloat("REALTIME_EVENT_RATE", 20)
	cfg.Realtime.EventBurst = getEnvInt("REALTIME_EVENT_BURST", 40)
	cfg.Realtime.SendBuffer = getEnvInt("REALTIME_SEND_BUFFER", 256)
	cfg.Realtime.MaxFrameBytes = getEnvInt64("REALTIME_MAX_FRAME_BYTES", 64<<10)

	cfg.History.PageSize = getEnvInt("HISTORY_PAGE_SIZE", 50)
	cfg.History.MaxPageSize = getEnvInt("HISTORY_MAX_PAGE_SIZE", 200)

	cfg.Redis.URL = getEnvString("REDIS_URL", "")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Breaker.Failures = uint(getEnvInt("BREAKER_FAILURES", 5))
	cfg.Breaker.RetryTimeout = getEnvDuration("BREAKER_RETRY_TIMEOUT", 30*time.Second)

	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "music-stream-backend")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "music-stream")

	cfg.OpenAPI.SchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")

	return cfg
}

// IsProduction reports whether the service runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
