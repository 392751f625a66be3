package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	PayPal    PayPalConfig    `mapstructure:"paypal"`
	Session   SessionConfig   `mapstructure:"session"`
	Login     LoginConfig     `mapstructure:"login"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OTel      OTelConfig      `mapstructure:"otel"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// BackendConfig holds the upstream content/payment API settings.
// URL is the server-side variable; PublicURL is the browser-facing one used as a fallback.
type BackendConfig struct {
	URL       string        `mapstructure:"url"`
	PublicURL string        `mapstructure:"public_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	AuthPath  string        `mapstructure:"auth_path"`
}

// BaseURL returns the configured backend base URL, preferring the server-side variable.
// An empty string means the backend is not configured.
func (b *BackendConfig) BaseURL() string {
	if u := strings.TrimSpace(b.URL); u != "" {
		return strings.TrimRight(u, "/")
	}
	return strings.TrimRight(strings.TrimSpace(b.PublicURL), "/")
}

// PayPalConfig holds the payment processor's browser SDK settings
type PayPalConfig struct {
	ClientID string `mapstructure:"client_id"`
	Currency string `mapstructure:"currency"`
}

// SessionConfig holds session cookie settings
type SessionConfig struct {
	CookieName string `mapstructure:"cookie_name"`
	MaxAge     int    `mapstructure:"max_age"` // seconds
}

// LoginConfig holds the login proxy retry policy
type LoginConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	LoginPerMinute    int  `mapstructure:"login_per_minute"`
	LoginBurst        int  `mapstructure:"login_burst"`
}

// FallbackConfig controls serving fixture data when the backend is down
type FallbackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ProxyConfig holds resource proxy settings
type ProxyConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// CORSConfig holds allowed origins for cross-origin dashboard tooling
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional; environment variables are enough
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "tutor-site")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 3000)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "60s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Backend defaults (URL intentionally has no default)
	v.SetDefault("BACKEND_URL", "")
	v.SetDefault("PUBLIC_BACKEND_URL", "")
	v.SetDefault("BACKEND_TIMEOUT", "30s")
	v.SetDefault("BACKEND_AUTH_PATH", "/api/auth/authenticate")

	// PayPal defaults
	v.SetDefault("PAYPAL_CLIENT_ID", "")
	v.SetDefault("PAYPAL_CURRENCY", "USD")

	// Session defaults
	v.SetDefault("SESSION_COOKIE_NAME", "auth_token")
	v.SetDefault("SESSION_MAX_AGE", 604800) // 7 days

	// Login retry policy
	v.SetDefault("LOGIN_MAX_RETRIES", 2)
	v.SetDefault("LOGIN_RETRY_INTERVAL", "1s")
	v.SetDefault("LOGIN_ATTEMPT_TIMEOUT", "10s")

	// Redis defaults
	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "tutor-site")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Rate limit defaults
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_REQUESTS_PER_MINUTE", 600)
	v.SetDefault("RATE_LIMIT_BURST", 60)
	v.SetDefault("RATE_LIMIT_LOGIN_PER_MINUTE", 10)
	v.SetDefault("RATE_LIMIT_LOGIN_BURST", 5)

	// Fallback data is opt-in
	v.SetDefault("FALLBACK_DATA_ENABLED", false)
	v.SetDefault("FALLBACK_DATA_PATH", "")

	// Proxy defaults
	v.SetDefault("PROXY_CACHE_TTL", "0s")

	v.SetDefault("CORS_ALLOW_ORIGINS", "")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Backend
	cfg.Backend.URL = v.GetString("BACKEND_URL")
	cfg.Backend.PublicURL = v.GetString("PUBLIC_BACKEND_URL")
	cfg.Backend.Timeout = v.GetDuration("BACKEND_TIMEOUT")
	cfg.Backend.AuthPath = v.GetString("BACKEND_AUTH_PATH")

	// PayPal
	cfg.PayPal.ClientID = v.GetString("PAYPAL_CLIENT_ID")
	cfg.PayPal.Currency = v.GetString("PAYPAL_CURRENCY")

	// Session
	cfg.Session.CookieName = v.GetString("SESSION_COOKIE_NAME")
	cfg.Session.MaxAge = v.GetInt("SESSION_MAX_AGE")

	// Login
	cfg.Login.MaxRetries = v.GetInt("LOGIN_MAX_RETRIES")
	cfg.Login.RetryInterval = v.GetDuration("LOGIN_RETRY_INTERVAL")
	cfg.Login.AttemptTimeout = v.GetDuration("LOGIN_ATTEMPT_TIMEOUT")

	// Redis
	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Rate limit
	cfg.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	cfg.RateLimit.RequestsPerMinute = v.GetInt("RATE_LIMIT_REQUESTS_PER_MINUTE")
	cfg.RateLimit.Burst = v.GetInt("RATE_LIMIT_BURST")
	cfg.RateLimit.LoginPerMinute = v.GetInt("RATE_LIMIT_LOGIN_PER_MINUTE")
	cfg.RateLimit.LoginBurst = v.GetInt("RATE_LIMIT_LOGIN_BURST")

	// Fallback
	cfg.Fallback.Enabled = v.GetBool("FALLBACK_DATA_ENABLED")
	cfg.Fallback.Path = v.GetString("FALLBACK_DATA_PATH")

	// Proxy
	cfg.Proxy.CacheTTL = v.GetDuration("PROXY_CACHE_TTL")

	// CORS
	if origins := strings.TrimSpace(v.GetString("CORS_ALLOW_ORIGINS")); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowOrigins = append(cfg.CORS.AllowOrigins, o)
			}
		}
	}
}

// Validate validates the configuration.
// A missing backend URL is allowed: dependent routes report it per request.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}

	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("invalid session max age: %d", c.Session.MaxAge)
	}

	if c.Login.MaxRetries < 0 {
		return fmt.Errorf("invalid login max retries: %d", c.Login.MaxRetries)
	}

	if c.Login.AttemptTimeout <= 0 {
		return fmt.Errorf("login attempt timeout must be positive")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
