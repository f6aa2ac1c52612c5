/**
 * @description
 * This package handles the configuration management for the charge service. It uses
 * the Viper library to read configuration from environment variables (and an optional
 * .env file), providing a single `Config` value built once at startup and passed to
 * every component that needs it.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBolt     = "bolt"
)

// Config holds all the configuration variables for the charge service.
type Config struct {
	ServerPort              string        `mapstructure:"SERVER_PORT"`
	StoreDriver             string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	BoltPath                string        `mapstructure:"BOLT_PATH"`
	RedisURL                string        `mapstructure:"REDIS_URL"`
	RedisAdmissionPrefix    string        `mapstructure:"REDIS_ADMISSION_PREFIX"`
	RabbitMQURL             string        `mapstructure:"RABBITMQ_URL"`
	ChargeEventsExchange    string        `mapstructure:"CHARGE_EVENTS_EXCHANGE"`
	JWKSURL                 string        `mapstructure:"JWKS_URL"`
	JWTAudience             string        `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer               string        `mapstructure:"JWT_ISSUER"`
	ChargeMinAmount         int64         `mapstructure:"CHARGE_MIN_AMOUNT"`
	ChargeMaxAmount         int64         `mapstructure:"CHARGE_MAX_AMOUNT"`
	DefaultExpiryMinutes    int           `mapstructure:"CHARGE_DEFAULT_EXPIRY_MINUTES"`
	MaxExpiryMinutes        int           `mapstructure:"CHARGE_MAX_EXPIRY_MINUTES"`
	MaxChargesPerHour       int           `mapstructure:"MAX_CHARGES_PER_HOUR"`
	PayeeCityDefault        string        `mapstructure:"PAYEE_CITY_DEFAULT"`
	IssueRateLimit          int           `mapstructure:"ISSUE_RATE_LIMIT"`
	IssueRateWindowSeconds  int           `mapstructure:"ISSUE_RATE_WINDOW_SECONDS"`
	IssueRateLimitType      string        `mapstructure:"ISSUE_RATE_LIMIT_TYPE"`
	IssueBanAfterViolations int           `mapstructure:"ISSUE_BAN_AFTER_VIOLATIONS"`
	IssueBanSeconds         int           `mapstructure:"ISSUE_BAN_SECONDS"`
	ExpirationSweepInterval time.Duration `mapstructure:"EXPIRATION_SWEEP_INTERVAL"`
	ExpirationSweepBatch    int           `mapstructure:"EXPIRATION_SWEEP_BATCH"`
	QRImageSize             int           `mapstructure:"QR_IMAGE_SIZE"`
}

// IssueRateWindow returns the admission decorator window.
func (c Config) IssueRateWindow() time.Duration {
	return time.Duration(c.IssueRateWindowSeconds) * time.Second
}

// IssueBanDuration returns how long a scope stays banned.
func (c Config) IssueBanDuration() time.Duration {
	return time.Duration(c.IssueBanSeconds) * time.Second
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("BOLT_PATH", "charges.db")
	viper.SetDefault("REDIS_ADMISSION_PREFIX", "pix:admission")
	viper.SetDefault("CHARGE_EVENTS_EXCHANGE", "pix.charges")
	viper.SetDefault("CHARGE_MIN_AMOUNT", 100)
	viper.SetDefault("CHARGE_MAX_AMOUNT", 1000000)
	viper.SetDefault("CHARGE_DEFAULT_EXPIRY_MINUTES", 10)
	viper.SetDefault("CHARGE_MAX_EXPIRY_MINUTES", 60)
	viper.SetDefault("MAX_CHARGES_PER_HOUR", 100)
	viper.SetDefault("PAYEE_CITY_DEFAULT", "SAO PAULO")
	viper.SetDefault("ISSUE_RATE_LIMIT", 30)
	viper.SetDefault("ISSUE_RATE_WINDOW_SECONDS", 60)
	viper.SetDefault("ISSUE_RATE_LIMIT_TYPE", "payee_ip")
	viper.SetDefault("ISSUE_BAN_AFTER_VIOLATIONS", 10)
	viper.SetDefault("ISSUE_BAN_SECONDS", 900)
	viper.SetDefault("EXPIRATION_SWEEP_INTERVAL", "1m")
	viper.SetDefault("EXPIRATION_SWEEP_BATCH", 500)
	viper.SetDefault("QR_IMAGE_SIZE", 256)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("BOLT_PATH")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PIX_REDIS_URL")
	_ = viper.BindEnv("REDIS_ADMISSION_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CHARGE_EVENTS_EXCHANGE")
	_ = viper.BindEnv("JWKS_URL", "JWKS_URL", "CLERK_JWKS_URL")
	_ = viper.BindEnv("JWT_AUDIENCE", "JWT_AUDIENCE", "CLERK_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER", "JWT_ISSUER", "CLERK_ISSUER")
	_ = viper.BindEnv("CHARGE_MIN_AMOUNT")
	_ = viper.BindEnv("CHARGE_MAX_AMOUNT")
	_ = viper.BindEnv("CHARGE_DEFAULT_EXPIRY_MINUTES")
	_ = viper.BindEnv("CHARGE_MAX_EXPIRY_MINUTES")
	_ = viper.BindEnv("MAX_CHARGES_PER_HOUR")
	_ = viper.BindEnv("PAYEE_CITY_DEFAULT")
	_ = viper.BindEnv("ISSUE_RATE_LIMIT")
	_ = viper.BindEnv("ISSUE_RATE_WINDOW_SECONDS")
	_ = viper.BindEnv("ISSUE_RATE_LIMIT_TYPE")
	_ = viper.BindEnv("ISSUE_BAN_AFTER_VIOLATIONS")
	_ = viper.BindEnv("ISSUE_BAN_SECONDS")
	_ = viper.BindEnv("EXPIRATION_SWEEP_INTERVAL")
	_ = viper.BindEnv("EXPIRATION_SWEEP_BATCH")
	_ = viper.BindEnv("QR_IMAGE_SIZE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWKSURL = strings.TrimSpace(config.JWKSURL)
	config.JWTAudience = strings.TrimSpace(config.JWTAudience)
	config.JWTIssuer = strings.TrimSpace(config.JWTIssuer)

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != StoreDriverPostgres && config.StoreDriver != StoreDriverBolt {
		log.Printf("level=warn component=config msg=\"unknown store driver; using postgres\" driver=%q", config.StoreDriver)
		config.StoreDriver = StoreDriverPostgres
	}

	config.RedisAdmissionPrefix = strings.TrimSpace(config.RedisAdmissionPrefix)
	if config.RedisAdmissionPrefix == "" {
		config.RedisAdmissionPrefix = "pix:admission"
	}
	if strings.TrimSpace(config.ChargeEventsExchange) == "" {
		config.ChargeEventsExchange = "pix.charges"
	}
	config.PayeeCityDefault = strings.TrimSpace(config.PayeeCityDefault)
	if config.PayeeCityDefault == "" {
		config.PayeeCityDefault = "SAO PAULO"
	}

	if config.ChargeMinAmount <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive minimum amount; using default\" min_amount=%d", config.ChargeMinAmount)
		config.ChargeMinAmount = 100
	}
	if config.ChargeMaxAmount < config.ChargeMinAmount {
		log.Printf("level=warn component=config msg=\"maximum amount below minimum; using default\" max_amount=%d", config.ChargeMaxAmount)
		config.ChargeMaxAmount = 1000000
	}
	if config.MaxExpiryMinutes <= 0 {
		config.MaxExpiryMinutes = 60
	}
	if config.DefaultExpiryMinutes <= 0 || config.DefaultExpiryMinutes > config.MaxExpiryMinutes {
		log.Printf("level=warn component=config msg=\"default expiry out of range; clamping\" default_expiry_minutes=%d", config.DefaultExpiryMinutes)
		config.DefaultExpiryMinutes = min(10, config.MaxExpiryMinutes)
	}
	if config.MaxChargesPerHour <= 0 {
		config.MaxChargesPerHour = 100
	}

	config.IssueRateLimitType = strings.ToLower(strings.TrimSpace(config.IssueRateLimitType))
	if config.IssueRateLimitType == "" {
		config.IssueRateLimitType = "payee_ip"
	}
	if config.IssueRateLimit < 0 {
		config.IssueRateLimit = 0
	}
	if config.IssueRateWindowSeconds <= 0 {
		config.IssueRateWindowSeconds = 60
	}
	if config.IssueBanAfterViolations < 0 {
		config.IssueBanAfterViolations = 0
	}
	if config.IssueBanSeconds <= 0 {
		config.IssueBanSeconds = 900
	}

	if config.ExpirationSweepInterval < time.Second {
		log.Printf("level=warn component=config msg=\"sweep interval too small; using 1m\" interval=%s", config.ExpirationSweepInterval)
		config.ExpirationSweepInterval = time.Minute
	}
	if config.ExpirationSweepBatch <= 0 {
		config.ExpirationSweepBatch = 500
	}
	if config.QRImageSize <= 0 {
		config.QRImageSize = 256
	}

	return
}
