package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/warehouse/internal/platform/failure"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Warehouse resource
	ResourceName string `mapstructure:"RESOURCE_NAME"`
	ResourceURL  string `mapstructure:"RESOURCE_URL"`
	Domain       string `mapstructure:"DOMAIN"`
	TransmartURL string `mapstructure:"TRANSMART_URL"`
	ProxyURL     string `mapstructure:"PROXY_URL"`
	Username     string `mapstructure:"USERNAME"`
	Password     string `mapstructure:"PASSWORD"`

	// Query execution
	PollInterval        time.Duration `mapstructure:"POLL_INTERVAL"`
	PollTimeout         time.Duration `mapstructure:"POLL_TIMEOUT"`
	ExtractionBatchSize int           `mapstructure:"EXTRACTION_BATCH_SIZE"`
	HTTPTimeout         time.Duration `mapstructure:"HTTP_TIMEOUT"`

	// Result store; empty keeps results in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	RequiredRole   string   `mapstructure:"REQUIRED_ROLE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT", "ENV",
	"RESOURCE_NAME", "RESOURCE_URL", "DOMAIN", "TRANSMART_URL", "PROXY_URL", "USERNAME", "PASSWORD",
	"POLL_INTERVAL", "POLL_TIMEOUT", "EXTRACTION_BATCH_SIZE", "HTTP_TIMEOUT",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "REQUIRED_ROLE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("POLL_INTERVAL", "3s")
	v.SetDefault("POLL_TIMEOUT", "30m") // 0 polls until a terminal status
	v.SetDefault("EXTRACTION_BATCH_SIZE", 10)
	v.SetDefault("HTTP_TIMEOUT", "60s")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	var missing []string
	for key, val := range map[string]string{
		"RESOURCE_NAME": cfg.ResourceName,
		"RESOURCE_URL":  cfg.ResourceURL,
		"DOMAIN":        cfg.Domain,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, failure.Missingf("missing parameters: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UseProxy reports whether cell calls go through the proxy instead of
// carrying PM credentials.
func (c *Config) UseProxy() bool {
	return c.ProxyURL != ""
}

// UseTransmart reports whether the tranSMART extraction layer is enabled.
func (c *Config) UseTransmart() bool {
	return c.TransmartURL != ""
}

// ResourceType names the adapter flavour selected by this configuration.
func (c *Config) ResourceType() string {
	if c.UseTransmart() {
		return "i2b2/tranSMART"
	}
	return "i2b2XML"
}

// Validate checks that the configuration can drive the warehouse. Without a
// proxy the PM cell needs a username and password. Outside development an
// auth issuer or signing key must be configured.
func (c *Config) Validate() error {
	if !c.UseProxy() && (c.Username == "" || c.Password == "") {
		return failure.Missingf("USERNAME and PASSWORD are required when PROXY_URL is not set")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("POLL_TIMEOUT must not be negative, got %s", c.PollTimeout)
	}
	if c.ExtractionBatchSize <= 0 {
		return fmt.Errorf("EXTRACTION_BATCH_SIZE must be positive, got %d", c.ExtractionBatchSize)
	}
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	return nil
}
