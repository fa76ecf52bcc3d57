package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"atbadges/internal/utils/appinfo"

	"github.com/joho/godotenv"
	"golang.org/x/exp/slices"
)

// Badge service providers
const (
	ProviderBadgeEngine = "badge-engine"
	ProviderBunBadges   = "bun-badges"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	BadgeService BadgeServiceConfig
	Cache        CacheConfig
	Security     SecurityConfig
	Logging      LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Environment     string
	Host            string
	Version         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
	MaxHeaderBytes  int
}

// DatabaseConfig holds the Postgres connection and pool settings
type DatabaseConfig struct {
	URL                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	SlowQueryThreshold time.Duration
	MigrationsPath     string
	AutoMigrate        bool
	ConnectRetries     int
}

// BadgeServiceConfig selects and configures the external badge service
type BadgeServiceConfig struct {
	Enabled        bool
	Provider       string
	BadgeEngineURL string
	BunBadgesURL   string
	Timeout        time.Duration
	// RequestsPerSecond throttles outbound calls. Zero disables the throttle.
	RequestsPerSecond float64
}

// CacheConfig selects the backing store for rate limit counters
type CacheConfig struct {
	Provider string
	RedisURL string
	TTL      time.Duration
	MaxKeys  int
}

// SecurityConfig holds CORS, rate limit and metrics exposure settings
type SecurityConfig struct {
	AllowedOrigins    []string
	CORSMaxAge        int
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MetricsEnabled    bool
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	// Load environment file based on GO_ENV
	env := getEnv("GO_ENV", "development")
	if env != "production" {
		envFile := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(envFile); err == nil {
			_ = godotenv.Load(envFile)
		} else {
			_ = godotenv.Load() // fallback to .env
		}
	}

	config := &Config{
		Server:       loadServerConfig(env),
		Database:     loadDatabaseConfig(),
		BadgeService: loadBadgeServiceConfig(),
		Cache:        loadCacheConfig(),
		Security:     loadSecurityConfig(),
		Logging:      loadLoggingConfig(env),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func loadServerConfig(env string) ServerConfig {
	return ServerConfig{
		Port:            getEnv("PORT", "9000"),
		Environment:     env,
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Version:         appinfo.Version(),
		ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		GracefulTimeout: getDurationEnv("GRACEFUL_TIMEOUT", 30*time.Second),
		MaxHeaderBytes:  getIntEnv("MAX_HEADER_BYTES", 1<<20),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:                getEnv("DATABASE_URL", ""),
		MaxOpenConns:       getIntEnv("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:       getIntEnv("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:    getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime:    getDurationEnv("DB_CONN_MAX_IDLE_TIME", time.Minute),
		SlowQueryThreshold: getDurationEnv("DB_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		MigrationsPath:     getEnv("MIGRATIONS_PATH", "./migrations"),
		AutoMigrate:        getBoolEnv("DB_AUTO_MIGRATE", true),
		ConnectRetries:     getIntEnv("DB_CONNECT_RETRIES", 5),
	}
}

func loadBadgeServiceConfig() BadgeServiceConfig {
	return BadgeServiceConfig{
		Enabled:           getBoolEnv("BADGE_SERVICE_ENABLED", true),
		Provider:          strings.ToLower(getEnv("BADGE_SERVICE_PROVIDER", ProviderBadgeEngine)),
		BadgeEngineURL:    getEnv("BADGE_ENGINE_URL", "http://localhost:3001/api"),
		BunBadgesURL:      getEnv("BADGES_API_URL", "http://localhost:7777"),
		Timeout:           getDurationEnv("BADGE_SERVICE_TIMEOUT", 10*time.Second),
		RequestsPerSecond: getFloat64Env("BADGE_SERVICE_RPS", 0),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Provider: strings.ToLower(getEnv("CACHE_PROVIDER", "memory")),
		RedisURL: getEnv("REDIS_URL", ""),
		TTL:      getDurationEnv("CACHE_TTL", 15*time.Minute),
		MaxKeys:  getIntEnv("CACHE_MAX_KEYS", 10000),
	}
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowedOrigins:    getListEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		CORSMaxAge:        getIntEnv("CORS_MAX_AGE", 600),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		MetricsEnabled:    getBoolEnv("METRICS_ENABLED", true),
	}
}

func loadLoggingConfig(env string) LoggingConfig {
	return LoggingConfig{
		Level:  getEnv("LOG_LEVEL", getDefaultLogLevel(env)),
		Format: getEnv("LOG_FORMAT", getDefaultLogFormat(env)),
	}
}

// BaseURL returns the base URL of the selected provider.
func (b *BadgeServiceConfig) BaseURL() string {
	if b.Provider == ProviderBunBadges {
		return b.BunBadgesURL
	}
	return b.BadgeEngineURL
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.BadgeService.Validate(); err != nil {
		return fmt.Errorf("badge service config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if port, err := strconv.Atoi(s.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535")
	}

	if s.ReadTimeout <= 0 {
		return fmt.Errorf("ReadTimeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		return fmt.Errorf("WriteTimeout must be positive")
	}

	return nil
}

func (d *DatabaseConfig) Validate() error {
	if d.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if d.MaxOpenConns <= 0 {
		return fmt.Errorf("MaxOpenConns must be positive")
	}

	if d.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns cannot be negative")
	}

	if d.MaxIdleConns > d.MaxOpenConns {
		return fmt.Errorf("MaxIdleConns cannot be greater than MaxOpenConns")
	}

	if d.ConnMaxLifetime <= 0 {
		return fmt.Errorf("ConnMaxLifetime must be positive")
	}

	if d.SlowQueryThreshold <= 0 {
		return fmt.Errorf("SlowQueryThreshold must be positive")
	}

	if d.ConnectRetries < 0 {
		return fmt.Errorf("ConnectRetries cannot be negative")
	}

	return nil
}

func (b *BadgeServiceConfig) Validate() error {
	if !b.Enabled {
		return nil
	}

	if !slices.Contains([]string{ProviderBadgeEngine, ProviderBunBadges}, b.Provider) {
		return fmt.Errorf("unsupported badge service provider: %s", b.Provider)
	}

	u, err := url.Parse(b.BaseURL())
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL for %s: %q", b.Provider, b.BaseURL())
	}

	if b.Timeout <= 0 {
		return fmt.Errorf("BADGE_SERVICE_TIMEOUT must be positive")
	}

	if b.RequestsPerSecond < 0 {
		return fmt.Errorf("BADGE_SERVICE_RPS cannot be negative")
	}

	return nil
}

func (c *CacheConfig) Validate() error {
	switch c.Provider {
	case "memory", "":
		return nil
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis provider")
		}
		return nil
	default:
		return fmt.Errorf("unsupported cache provider: %s", c.Provider)
	}
}

func (s *SecurityConfig) Validate() error {
	if s.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS cannot be negative")
	}

	if s.RateLimitRequests > 0 && s.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloat64Env(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping blanks
func getListEnv(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getDefaultLogLevel(env string) string {
	switch env {
	case "production":
		return "info"
	default:
		return "debug"
	}
}

func getDefaultLogFormat(env string) string {
	switch env {
	case "production":
		return "json"
	default:
		return "console"
	}
}
