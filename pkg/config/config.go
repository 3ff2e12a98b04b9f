package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env       string `env:"APP_ENV" validate:"required"`
	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	Search    SearchConfig
	OTEL      OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" validate:"required"`
	Port            int           `env:"SERVER_PORT" validate:"gt=0,lte=65535"`
	AllowedOrigins  []string      `env:"SERVER_ALLOWED_ORIGINS" validate:"min=1,dive,required"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host          string `env:"DB_HOST" validate:"required"`
	Port          int    `env:"DB_PORT" validate:"gt=0,lte=65535"`
	User          string `env:"DB_USER" validate:"required"`
	Password      string `env:"DB_PASSWORD"`
	Database      string `env:"DB_NAME" validate:"required"`
	SSLMode       string `env:"DB_SSLMODE" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns  int    `env:"DB_MAX_OPEN_CONNS" validate:"gt=0"`
	MaxIdleConns  int    `env:"DB_MAX_IDLE_CONNS" validate:"gte=0"`
	MigrationsDir string `env:"DB_MIGRATIONS_DIR" validate:"required"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" validate:"required"`
	Port     int    `env:"REDIS_PORT" validate:"gt=0,lte=65535"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" validate:"gte=0"`
}

// EmbeddingConfig holds the OpenAI-compatible embedding endpoint configuration
type EmbeddingConfig struct {
	APIKey         string `env:"EMBEDDING_API_KEY"`
	BaseURL        string `env:"EMBEDDING_BASE_URL" validate:"required,url"`
	Model          string `env:"EMBEDDING_MODEL" validate:"required"`
	Dimensions     int    `env:"EMBEDDING_DIMENSIONS" validate:"gt=0"`
	RateLimitRPM   int    `env:"EMBEDDING_RATE_LIMIT_RPM" validate:"gte=0"`
	RateLimitBurst int    `env:"EMBEDDING_RATE_LIMIT_BURST" validate:"gte=0"`
	CacheSize      int    `env:"EMBEDDING_CACHE_SIZE" validate:"gte=0"`
}

// SearchConfig holds retrieval and ranking defaults
type SearchConfig struct {
	// DefaultVersionYear is used by call sites that ask for the configured year. 0 disables it.
	DefaultVersionYear    int           `env:"SEARCH_DEFAULT_VERSION_YEAR" validate:"gte=0"`
	DefaultSemanticWeight float64       `env:"SEARCH_DEFAULT_SEMANTIC_WEIGHT" validate:"gte=0,lte=1"`
	SuggestMinSimilarity  float64       `env:"SEARCH_SUGGEST_MIN_SIMILARITY" validate:"gte=0,lte=1"`
	DefaultLimit          int           `env:"SEARCH_DEFAULT_LIMIT" validate:"gt=0"`
	MaxLimit              int           `env:"SEARCH_MAX_LIMIT" validate:"gtefield=DefaultLimit"`
	EmbeddingTimeout      time.Duration `env:"SEARCH_EMBEDDING_TIMEOUT" validate:"gte=0"`
	DetailCacheTTL        time.Duration `env:"SEARCH_DETAIL_CACHE_TTL" validate:"gte=0"`
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string        `env:"OTEL_SERVICE_NAME" validate:"required"`
	ServiceVersion string        `env:"OTEL_SERVICE_VERSION"`
	Endpoint       string        `env:"OTEL_ENDPOINT" validate:"required_if=Enabled true"`
	Enabled        bool          `env:"OTEL_ENABLED"`
	MetricInterval time.Duration `env:"OTEL_METRIC_INTERVAL" validate:"gt=0"`
}

// Load loads configuration from environment variables. A .env file in the working directory is read
// first when present; variables already set in the environment take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins:  getEnvAsSlice("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", ""),
			Database:      getEnv("DB_NAME", "code_lookup"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "file://migrations"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Embedding: EmbeddingConfig{
			APIKey:         getEnv("EMBEDDING_API_KEY", ""),
			BaseURL:        getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			Model:          getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions:     getEnvAsInt("EMBEDDING_DIMENSIONS", 1536),
			RateLimitRPM:   getEnvAsInt("EMBEDDING_RATE_LIMIT_RPM", 600),
			RateLimitBurst: getEnvAsInt("EMBEDDING_RATE_LIMIT_BURST", 20),
			CacheSize:      getEnvAsInt("EMBEDDING_CACHE_SIZE", 5000),
		},
		Search: SearchConfig{
			DefaultVersionYear:    getEnvAsInt("SEARCH_DEFAULT_VERSION_YEAR", 0),
			DefaultSemanticWeight: getEnvAsFloat("SEARCH_DEFAULT_SEMANTIC_WEIGHT", 0.7),
			SuggestMinSimilarity:  getEnvAsFloat("SEARCH_SUGGEST_MIN_SIMILARITY", 0.6),
			DefaultLimit:          getEnvAsInt("SEARCH_DEFAULT_LIMIT", 20),
			MaxLimit:              getEnvAsInt("SEARCH_MAX_LIMIT", 100),
			EmbeddingTimeout:      getEnvAsDuration("SEARCH_EMBEDDING_TIMEOUT", 2*time.Second),
			DetailCacheTTL:        getEnvAsDuration("SEARCH_DETAIL_CACHE_TTL", 10*time.Minute),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "code-lookup"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
			MetricInterval: getEnvAsDuration("OTEL_METRIC_INTERVAL", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report failures under the environment variable name an operator would fix
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// Validate checks the values that would otherwise only fail at request time
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, describe(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_if":
		return fmt.Sprintf("%s is required when %s", fe.Field(), fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be >= SEARCH_DEFAULT_LIMIT, got %v", fe.Field(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the connection string in URL form, as the migration driver expects
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
