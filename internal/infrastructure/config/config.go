package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/coinpilot/coinpilot-core/internal/indicators"
)

// Config holds all configuration for the application
type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	PriceFeed   PriceFeedConfig `mapstructure:"price_feed"`
	Payment     PaymentConfig   `mapstructure:"payment"`
	Email       EmailConfig     `mapstructure:"email"`
	SIP         SIPConfig       `mapstructure:"sip"`
	Backtest    BacktestConfig  `mapstructure:"backtest"`
}

// ServerConfig covers the operational HTTP surface (metrics, health)
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PriceFeedConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	QuoteCurrency string        `mapstructure:"quote_currency"`
}

type PaymentConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Environment string        `mapstructure:"environment"` // sandbox, production
}

type EmailConfig struct {
	Provider  string `mapstructure:"provider"` // "sendgrid" or empty for log-only
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// SIPConfig tunes the recurring investment sweep
type SIPConfig struct {
	SweepSchedule          string        `mapstructure:"sweep_schedule"`
	SweepTimeout           time.Duration `mapstructure:"sweep_timeout"`
	BatchLimit             int           `mapstructure:"batch_limit"`
	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	ClaimTTL               time.Duration `mapstructure:"claim_ttl"`
	ReconciliationSchedule string        `mapstructure:"reconciliation_schedule"`
}

// BacktestConfig carries the indicator parameters for the simulator
type BacktestConfig struct {
	Indicators indicators.Config `mapstructure:"indicators"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	// Read from config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.metrics_port", 9090)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "coinpilot")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	// Price feed defaults
	viper.SetDefault("price_feed.base_url", "https://api.coingecko.com/api/v3")
	viper.SetDefault("price_feed.timeout", "10s")
	viper.SetDefault("price_feed.max_retries", 3)
	viper.SetDefault("price_feed.cache_ttl", "30s")
	viper.SetDefault("price_feed.quote_currency", "usd")

	// Payment defaults
	viper.SetDefault("payment.timeout", "30s")
	viper.SetDefault("payment.environment", "sandbox")

	// Email defaults
	viper.SetDefault("email.provider", "")
	viper.SetDefault("email.from_email", "no-reply@coinpilot.io")
	viper.SetDefault("email.from_name", "CoinPilot")

	// Sweep defaults
	viper.SetDefault("sip.sweep_schedule", "0 * * * * *")
	viper.SetDefault("sip.sweep_timeout", "4m")
	viper.SetDefault("sip.batch_limit", 100)
	viper.SetDefault("sip.retry_delay", "1h")
	viper.SetDefault("sip.claim_ttl", "5m")
	viper.SetDefault("sip.reconciliation_schedule", "0 0 3 * * *")

	// Backtest indicator defaults
	viper.SetDefault("backtest.indicators.rsi_period", 14)
	viper.SetDefault("backtest.indicators.macd_fast_period", 12)
	viper.SetDefault("backtest.indicators.macd_slow_period", 26)
	viper.SetDefault("backtest.indicators.macd_signal_period", 9)
	viper.SetDefault("backtest.indicators.bollinger_period", 20)
	viper.SetDefault("backtest.indicators.bollinger_multiplier", 2.0)
}

func overrideFromEnv() {
	if port := os.Getenv("METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.metrics_port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}

	if priceKey := os.Getenv("PRICE_FEED_API_KEY"); priceKey != "" {
		viper.Set("price_feed.api_key", priceKey)
	}
	if priceURL := os.Getenv("PRICE_FEED_BASE_URL"); priceURL != "" {
		viper.Set("price_feed.base_url", priceURL)
	}

	if paymentKey := os.Getenv("PAYMENT_API_KEY"); paymentKey != "" {
		viper.Set("payment.api_key", paymentKey)
	}
	if paymentURL := os.Getenv("PAYMENT_BASE_URL"); paymentURL != "" {
		viper.Set("payment.base_url", paymentURL)
	}
	if paymentEnv := os.Getenv("PAYMENT_ENVIRONMENT"); paymentEnv != "" {
		viper.Set("payment.environment", paymentEnv)
	}

	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		viper.Set("email.api_key", sendgridKey)
		viper.Set("email.provider", "sendgrid")
	}
}

func validate(config *Config) error {
	var missing []string

	if config.Database.URL == "" {
		missing = append(missing, "database.url")
	}

	if config.Environment == "production" {
		if config.Payment.APIKey == "" {
			missing = append(missing, "payment.api_key")
		}
		if config.Payment.BaseURL == "" {
			missing = append(missing, "payment.base_url")
		}
		if config.Payment.Environment != "production" {
			return fmt.Errorf("payment.environment must be production in a production deployment")
		}
	}

	if config.Email.Provider == "sendgrid" && config.Email.APIKey == "" {
		missing = append(missing, "email.api_key")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	return nil
}
