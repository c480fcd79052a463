package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/pegmark/pegmark/internal/utils"
)

// Config is the top-level configuration for the pricing engine, the CLI and
// the dashboard server.
type Config struct {
	Environment     string           `mapstructure:"environment"`
	LogLevel        string           `mapstructure:"log_level"`
	SmoothingWindow int              `mapstructure:"smoothing_window"`
	MarketCondition string           `mapstructure:"market_condition"`
	Products        []ProductConfig  `mapstructure:"products"`
	Guardrails      GuardrailConfig  `mapstructure:"guardrails"`
	DataSource      DataSourceConfig `mapstructure:"data_source"`
	Competitor      CompetitorConfig `mapstructure:"competitor"`
	Server          ServerConfig     `mapstructure:"server"`
	Redis           RedisConfig      `mapstructure:"redis"`
	Telegram        TelegramConfig   `mapstructure:"telegram"`
}

// ProductConfig represents a product that needs a crypto pegged selling price.
// CompetitorPriceUSD is optional; only the competitor-match strategy reads it.
type ProductConfig struct {
	Name               string   `mapstructure:"name" json:"name"`
	BasePriceUSD       float64  `mapstructure:"base_price_usd" json:"base_price_usd"`
	TargetMargin       float64  `mapstructure:"target_margin" json:"target_margin"`
	Elasticity         float64  `mapstructure:"elasticity" json:"elasticity"`
	CompetitorPriceUSD *float64 `mapstructure:"competitor_price_usd" json:"competitor_price_usd,omitempty"`
}

// GuardrailConfig holds the constraints that keep a dynamic price within safe
// bounds: the admissible markup interval and the volatility range over which
// the risk penalty scales from 0 to 1.
type GuardrailConfig struct {
	MinMarkup         float64 `mapstructure:"min_markup" json:"min_markup"`
	MaxMarkup         float64 `mapstructure:"max_markup" json:"max_markup"`
	VolatilityFloor   float64 `mapstructure:"volatility_floor" json:"volatility_floor"`
	VolatilityCeiling float64 `mapstructure:"volatility_ceiling" json:"volatility_ceiling"`
}

// DataSourceConfig selects and parameterizes the market data provider.
type DataSourceConfig struct {
	Provider      string `mapstructure:"provider"`
	Asset         string `mapstructure:"asset"`
	VsCurrency    string `mapstructure:"vs_currency"`
	LookbackHours int    `mapstructure:"lookback_hours"`
	CSVPath       string `mapstructure:"csv_path"`
	APIURL        string `mapstructure:"api_url"`
	APIKey        string `mapstructure:"api_key"`
	CacheTTL      string `mapstructure:"cache_ttl"`
}

// CompetitorConfig parameterizes the competitor quote service.
type CompetitorConfig struct {
	Provider   string             `mapstructure:"provider"`
	Asset      string             `mapstructure:"asset"`
	VsCurrency string             `mapstructure:"vs_currency"`
	APIURL     string             `mapstructure:"api_url"`
	APIKey     string             `mapstructure:"api_key"`
	Prices     map[string]float64 `mapstructure:"prices"`
}

// ServerConfig holds dashboard HTTP server options.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// RedisConfig holds connection options for the market-data series cache.
// An empty host disables caching entirely.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelegramConfig holds the optional pricing-run notifier settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Load reads configuration from the given YAML file (or from ./configs when
// path is empty), layers environment variables on top, and validates the
// result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// Enable environment variable support
	v.SetEnvPrefix("PEGMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("data_source.api_key", "COINMARKETCAP_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("competitor.api_key", "COINMARKETCAP_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, utils.NewValidationErrorf("configuration file not found or unreadable: %v", err)
		}
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate enforces the invariants the pricing core relies on. It fails fast,
// before any signal computation happens.
func (c *Config) Validate() error {
	if c.SmoothingWindow < 2 {
		return utils.NewValidationErrorf("smoothing_window must be at least 2, got %d", c.SmoothingWindow)
	}
	if len(c.Products) == 0 {
		return utils.NewValidationError("at least one product must be configured")
	}

	seen := make(map[string]struct{}, len(c.Products))
	for _, product := range c.Products {
		if product.Name == "" {
			return utils.NewValidationError("product name must not be empty")
		}
		if _, dup := seen[product.Name]; dup {
			return utils.NewValidationErrorf("duplicate product name: %s", product.Name)
		}
		seen[product.Name] = struct{}{}
		if product.BasePriceUSD <= 0 {
			return utils.NewValidationErrorf("product %s: base_price_usd must be positive, got %v", product.Name, product.BasePriceUSD)
		}
		if product.Elasticity < 0 {
			return utils.NewValidationErrorf("product %s: elasticity must not be negative, got %v", product.Name, product.Elasticity)
		}
	}

	if c.Guardrails.MinMarkup > c.Guardrails.MaxMarkup {
		return utils.NewValidationErrorf("guardrails: min_markup %v exceeds max_markup %v",
			c.Guardrails.MinMarkup, c.Guardrails.MaxMarkup)
	}
	if c.Guardrails.VolatilityFloor > c.Guardrails.VolatilityCeiling {
		return utils.NewValidationErrorf("guardrails: volatility_floor %v exceeds volatility_ceiling %v",
			c.Guardrails.VolatilityFloor, c.Guardrails.VolatilityCeiling)
	}

	switch strings.ToLower(c.DataSource.Provider) {
	case "csv", "coinmarketcap":
	default:
		return utils.NewValidationErrorf("unsupported data provider: %s", c.DataSource.Provider)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Engine
	v.SetDefault("smoothing_window", 12)
	v.SetDefault("market_condition", "balanced")

	// Data source
	v.SetDefault("data_source.provider", "csv")
	v.SetDefault("data_source.asset", "bitcoin")
	v.SetDefault("data_source.vs_currency", "usd")
	v.SetDefault("data_source.lookback_hours", 72)
	v.SetDefault("data_source.cache_ttl", "5m")

	// Competitor quotes
	v.SetDefault("competitor.provider", "stub")
	v.SetDefault("competitor.asset", "BTC")
	v.SetDefault("competitor.vs_currency", "USD")

	// Server
	v.SetDefault("server.port", 8080)

	// Redis (empty host keeps the series cache disabled)
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Telegram
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
}
