package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret is the development signing key used when JWT_SECRET is unset
const DefaultJWTSecret = "your-secret-key"

// Config holds application configuration from environment variables
type Config struct {
	// Application
	AppPort           string
	RequestTimeout    time.Duration
	CORSAllowedOrigin string

	// Storage
	StorageBackend string // mysql or memory
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBAutoMigrate  bool

	// Redis (shared rate limit counters)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret string
	JWTTTL    time.Duration

	// Generative AI provider
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	AITimeout     time.Duration
	AIRateLimit   int
	AIRateWindow  time.Duration

	// OpenTelemetry
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPProtocol  string
	OTELExporterOTLPHeaders   string // For SigNoz Cloud: signoz-ingestion-key=<key>
	OTELExporterOTLPInsecure  bool   // true for http://, false for https://
	OTELServiceName           string
	OTELServiceVersion        string
	OTELDeploymentEnvironment string
	OTELResourceAttributes    string
	OTELTracesEnabled         bool
}

// LoadConfig loads configuration from .env file and environment variables with defaults
func LoadConfig() *Config {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	return &Config{
		// Application
		AppPort:           getEnv("APP_PORT", "8080"),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),

		// Storage
		StorageBackend: getEnv("STORAGE_BACKEND", "mysql"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "3306"),
		DBUser:         getEnv("DB_USER", "root"),
		DBPassword:     getEnv("DB_PASSWORD", "password"),
		DBName:         getEnv("DB_NAME", "harvest"),
		DBAutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Auth
		JWTSecret: getEnv("JWT_SECRET", DefaultJWTSecret),
		JWTTTL:    getEnvDuration("JWT_TTL", 7*24*time.Hour),

		// Generative AI
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		AITimeout:     getEnvDuration("AI_TIMEOUT", 20*time.Second),
		AIRateLimit:   getEnvInt("AI_RATE_LIMIT", 10),
		AIRateWindow:  getEnvDuration("AI_RATE_WINDOW", time.Hour),

		// OpenTelemetry
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELExporterOTLPProtocol:  getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf"),
		OTELExporterOTLPHeaders:   getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OTELExporterOTLPInsecure:  getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true), // Default true for local dev
		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "harvest-api"),
		OTELServiceVersion:        getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTELDeploymentEnvironment: getEnv("OTEL_DEPLOYMENT_ENVIRONMENT", "development"),
		OTELResourceAttributes:    getEnv("OTEL_RESOURCE_ATTRIBUTES", ""),
		OTELTracesEnabled:         getEnvBool("OTEL_TRACES_ENABLED", false),
	}
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true&charset=utf8mb4&multiStatements=false"
}

// GetAppPortInt returns the application port as an integer
func (c *Config) GetAppPortInt() int {
	port, err := strconv.Atoi(c.AppPort)
	if err != nil {
		return 8080
	}
	return port
}

// UsesDefaultJWTSecret reports whether tokens are signed with the development key
func (c *Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

// AIEnabled reports whether a generative AI provider key is configured
func (c *Config) AIEnabled() bool {
	return c.GeminiAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if value == "true" || value == "1" || value == "yes" {
			return true
		}
		return false
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Warning: invalid integer for %s=%q, using %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration for %s=%q, using %s", key, value, defaultValue)
	}
	return defaultValue
}
