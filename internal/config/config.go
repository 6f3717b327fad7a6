package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`

	RiskProviderURL         string `mapstructure:"RISK_PROVIDER_URL"`
	RiskTimeoutMS           int    `mapstructure:"RISK_TIMEOUT_MS"`
	RiskSyncIntervalSeconds int    `mapstructure:"RISK_SYNC_INTERVAL_SECONDS"`

	InvoiceGraceDays int    `mapstructure:"INVOICE_GRACE_DAYS"`
	Currency         string `mapstructure:"CURRENCY"`

	GatewayURL       string `mapstructure:"GATEWAY_URL"`
	GatewayKeyID     string `mapstructure:"GATEWAY_KEY_ID"`
	GatewayKeySecret string `mapstructure:"GATEWAY_KEY_SECRET"`
	GatewayTimeoutMS int    `mapstructure:"GATEWAY_TIMEOUT_MS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	WebhookURLs   []string `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret string   `mapstructure:"WEBHOOK_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RISK_TIMEOUT_MS", 3000)
	v.SetDefault("RISK_SYNC_INTERVAL_SECONDS", 20)
	v.SetDefault("INVOICE_GRACE_DAYS", 30)
	v.SetDefault("CURRENCY", "INR")
	v.SetDefault("GATEWAY_TIMEOUT_MS", 5000)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("RISK_PROVIDER_URL")
	v.BindEnv("RISK_TIMEOUT_MS")
	v.BindEnv("RISK_SYNC_INTERVAL_SECONDS")
	v.BindEnv("INVOICE_GRACE_DAYS")
	v.BindEnv("CURRENCY")
	v.BindEnv("GATEWAY_URL")
	v.BindEnv("GATEWAY_KEY_ID")
	v.BindEnv("GATEWAY_KEY_SECRET")
	v.BindEnv("GATEWAY_TIMEOUT_MS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("WEBHOOK_URLS")
	v.BindEnv("WEBHOOK_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.WebhookURLs == nil {
		if urls := v.GetString("WEBHOOK_URLS"); urls != "" {
			cfg.WebhookURLs = strings.Split(urls, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RiskTimeout returns the per-call budget for risk-scoring requests.
func (c *Config) RiskTimeout() time.Duration {
	return time.Duration(c.RiskTimeoutMS) * time.Millisecond
}

// RiskSyncInterval returns the poll interval for the risk-sync reconciler.
func (c *Config) RiskSyncInterval() time.Duration {
	return time.Duration(c.RiskSyncIntervalSeconds) * time.Second
}

// GatewayTimeout returns the request budget for payment-gateway calls.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutMS) * time.Millisecond
}

// InvoiceGracePeriod returns how long after creation an invoice falls due.
func (c *Config) InvoiceGracePeriod() time.Duration {
	return time.Duration(c.InvoiceGraceDays) * 24 * time.Hour
}
