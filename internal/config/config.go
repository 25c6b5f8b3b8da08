package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Crypto   CryptoConfig
	OAuth    OAuthConfig
	Sync     SyncConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret    string
	TenantHeader string
}

type CryptoConfig struct {
	CredentialKey string
}

type OAuthConfig struct {
	PublicBaseURL   string
	ExchangeTimeout time.Duration
	StateTTL        time.Duration
	Stripe          StripeConfig
	PayPal          PayPalConfig
}

type StripeConfig struct {
	ClientID   string
	SecretKey  string
	Scope      string
	ConnectURL string // override for testing against a mock
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	AuthorizeURL string
}

type SyncConfig struct {
	MaxRetries  int
	Schedule    string
	BackoffBase time.Duration
	// StaleAfter is how long a running job may go without an update before
	// the periodic fan-out treats its worker as lost.
	StaleAfter  time.Duration
	Concurrency int
	// MetricsAddr is where the worker serves /metrics; empty disables it.
	MetricsAddr string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}
	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	burst, err := getEnvInt("RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}
	rps, err := getEnvFloat("RATE_LIMIT_RPS", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	exchangeTimeout, err := getEnvDuration("OAUTH_EXCHANGE_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid OAUTH_EXCHANGE_TIMEOUT: %w", err)
	}
	stateTTL, err := getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid OAUTH_STATE_TTL: %w", err)
	}
	maxRetries, err := getEnvInt("SYNC_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_MAX_RETRIES: %w", err)
	}
	backoff, err := getEnvDuration("SYNC_BACKOFF_BASE", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_BACKOFF_BASE: %w", err)
	}
	staleAfter, err := getEnvDuration("SYNC_STALE_AFTER", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_STALE_AFTER: %w", err)
	}
	concurrency, err := getEnvInt("WORKER_CONCURRENCY", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			TenantHeader: getEnv("TENANT_HEADER", "X-Tenant-ID"),
		},
		Crypto: CryptoConfig{
			CredentialKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),
		},
		OAuth: OAuthConfig{
			PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			ExchangeTimeout: exchangeTimeout,
			StateTTL:        stateTTL,
			Stripe: StripeConfig{
				ClientID:   getEnv("STRIPE_CLIENT_ID", ""),
				SecretKey:  getEnv("STRIPE_SECRET_KEY", ""),
				Scope:      getEnv("STRIPE_SCOPE", "read_only"),
				ConnectURL: getEnv("STRIPE_CONNECT_URL", ""),
			},
			PayPal: PayPalConfig{
				ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
				ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
				APIBaseURL:   getEnv("PAYPAL_API_BASE_URL", "https://api-m.paypal.com"),
				AuthorizeURL: getEnv("PAYPAL_AUTHORIZE_URL", "https://www.paypal.com/signin/authorize"),
			},
		},
		Sync: SyncConfig{
			MaxRetries:  maxRetries,
			Schedule:    getEnv("SYNC_SCHEDULE", "@every 6h"),
			BackoffBase: backoff,
			StaleAfter:  staleAfter,
			Concurrency: concurrency,
			MetricsAddr: getEnv("WORKER_METRICS_ADDR", ":9091"),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (s StripeConfig) Enabled() bool { return s.ClientID != "" && s.SecretKey != "" }
func (p PayPalConfig) Enabled() bool { return p.ClientID != "" && p.ClientSecret != "" }

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Crypto.CredentialKey == "" {
		missing = append(missing, "CREDENTIAL_ENCRYPTION_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if len(c.Crypto.CredentialKey) < 16 {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be at least 16 bytes")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative")
	}
	if !c.OAuth.Stripe.Enabled() && !c.OAuth.PayPal.Enabled() {
		return fmt.Errorf("no payment provider configured: set STRIPE_* or PAYPAL_* credentials")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
