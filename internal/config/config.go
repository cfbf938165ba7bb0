package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Skydropx SkydropxConfig `yaml:"skydropx" mapstructure:"skydropx"`
	Stripe   StripeConfig   `yaml:"stripe" mapstructure:"stripe"`
	Quote    QuoteConfig    `yaml:"quote" mapstructure:"quote"`
	Parcel   ParcelConfig   `yaml:"parcel" mapstructure:"parcel"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the order database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SkydropxConfig holds carrier API credentials and the configured origin
// address.
type SkydropxConfig struct {
	ClientID     string       `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string       `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL      string       `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS float64      `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	Origin       OriginConfig `yaml:"origin" mapstructure:"origin"`
}

// OriginConfig is the operator-configured shipment origin.
type OriginConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Company     string `yaml:"company" mapstructure:"company"`
	Phone       string `yaml:"phone" mapstructure:"phone"`
	Email       string `yaml:"email" mapstructure:"email"`
	CountryCode string `yaml:"country_code" mapstructure:"country_code"`
	PostalCode  string `yaml:"postal_code" mapstructure:"postal_code"`
	State       string `yaml:"state" mapstructure:"state"`
	City        string `yaml:"city" mapstructure:"city"`
	Colony      string `yaml:"colony" mapstructure:"colony"`
	Street      string `yaml:"street" mapstructure:"street"`
	Number      string `yaml:"number" mapstructure:"number"`
}

// StripeConfig holds payment provider settings.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// QuoteConfig configures quote snapshot signing.
type QuoteConfig struct {
	SigningSecret string `yaml:"signing_secret" mapstructure:"signing_secret"`
}

// ParcelConfig holds the constant box dimensions used for quotes.
type ParcelConfig struct {
	LengthCM float64 `yaml:"length_cm" mapstructure:"length_cm"`
	WidthCM  float64 `yaml:"width_cm" mapstructure:"width_cm"`
	HeightCM float64 `yaml:"height_cm" mapstructure:"height_cm"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SigningSecret resolves the quote token signing secret, falling back across
// the configured payment secrets and finally a local dev default so local
// runs work without configuration.
func (c *Config) SigningSecret() string {
	if c.Quote.SigningSecret != "" {
		return c.Quote.SigningSecret
	}
	if c.Stripe.WebhookSecret != "" {
		return c.Stripe.WebhookSecret
	}
	if c.Stripe.SecretKey != "" {
		return c.Stripe.SecretKey
	}
	return "local-dev-signing-secret"
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "storefront.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("skydropx.base_url", "https://pro.skydropx.com")
	v.SetDefault("skydropx.rate_limit_rps", 5)
	v.SetDefault("skydropx.origin.name", "IMPETUS")
	v.SetDefault("skydropx.origin.company", "IMPETUS")
	v.SetDefault("skydropx.origin.phone", "0000000000")
	v.SetDefault("skydropx.origin.email", "ventas@impetus.mx")
	v.SetDefault("skydropx.origin.country_code", "MX")
	v.SetDefault("skydropx.origin.postal_code", "91000")
	v.SetDefault("skydropx.origin.state", "Veracruz")
	v.SetDefault("skydropx.origin.city", "Xalapa")
	v.SetDefault("skydropx.origin.colony", "Centro")
	v.SetDefault("skydropx.origin.street", "Av. Principal")
	v.SetDefault("skydropx.origin.number", "1")
	v.SetDefault("parcel.length_cm", 28)
	v.SetDefault("parcel.width_cm", 20)
	v.SetDefault("parcel.height_cm", 12)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
