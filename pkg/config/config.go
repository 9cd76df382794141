package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// SuccessURL and CancelURL are the defaults used when the client does not
	// pass its own redirect targets.
	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`
	PortalURL  string `mapstructure:"portal_return_url"`
}

type AuthConfig struct {
	// JWTSecret verifies the bearer tokens issued by the auth system.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AdminEmails is the operator allow-list consulted by the privilege
	// resolver in addition to the profiles.is_admin flag.
	AdminEmails []string `mapstructure:"admin_emails"`
}

type CacheConfig struct {
	// SubscriptionTTL bounds how long a reconciled plan answer is reused.
	SubscriptionTTL time.Duration `mapstructure:"subscription_ttl"`
	// CatalogTTL bounds plan/gift/feature reference data. Catalog rows change
	// rarely, so this is much longer than SubscriptionTTL.
	CatalogTTL time.Duration `mapstructure:"catalog_ttl"`
}

type Env string

const (
	EnvDev  Env = "dev"
	EnvProd Env = "prod"
)

type Config struct {
	Env         Env          `mapstructure:"env"`
	Server      ServerConfig `mapstructure:"server"`
	Database    DBConfig     `mapstructure:"database"`
	Stripe      StripeConfig `mapstructure:"stripe"`
	Auth        AuthConfig   `mapstructure:"auth"`
	Cache       CacheConfig  `mapstructure:"cache"`
	TrialDays   int          `mapstructure:"trial_days"`
	MetricsAddr string       `mapstructure:"metrics_addr"`
}

// Validate fails fast on missing required settings. The payment path cannot
// run without the processor credentials and the webhook signing secret.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.DSN == "" {
		missing = append(missing, "database.dsn")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "stripe.secret_key")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "stripe.webhook_secret")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func New() (*Config, error) {
	v := viper.New()
	// Allow overriding config file via env:
	// - APP_CONFIG_FILE: absolute or relative file path
	// - APP_CONFIG_NAME: config base name without extension (default: "config")
	if file := os.Getenv("APP_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		cfgName := os.Getenv("APP_CONFIG_NAME")
		if cfgName == "" {
			cfgName = "config"
		}
		v.SetConfigName(cfgName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "dev")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8888)
	v.SetDefault("trial_days", 3)
	v.SetDefault("cache.subscription_ttl", 5*time.Minute)
	v.SetDefault("cache.catalog_ttl", 12*time.Hour)
	v.SetDefault("metrics_addr", ":90")

	if err := v.ReadInConfig(); err != nil {
		_ = err
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
