package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	LogLevel            string
	SessionSecret       string
	DatabaseURL         string
	RedisURL            string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
	HealthAdminKey      string

	Lending      LendingConfig
	Rent         RentConfig
	Distribution DistributionConfig
	Mirror       MirrorConfig
	NATS         NATSConfig
}

// LendingConfig carries the loan policy. Ratios are basis points.
type LendingConfig struct {
	MaxLtvBps               int64
	OriginationFeeBps       int64
	InterestRate            decimal.Decimal
	LiquidationThresholdBps int64
}

type RentConfig struct {
	DefaultManagementFeePercent decimal.Decimal
}

// DistributionConfig controls the background scheduler. Interval 0 disables it.
type DistributionConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// MirrorConfig points at the lending contract. An empty RPCURL disables the
// on-chain mirror; outbox rows are then marked SKIPPED.
type MirrorConfig struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	Workers         int
	MaxRetry        int
}

type NATSConfig struct {
	URL    string
	Stream string
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	viper.SetDefault("STRIPE_CURRENCY", "usd")
	viper.SetDefault("LENDING_MAX_LTV_BPS", 5000)
	viper.SetDefault("LENDING_ORIGINATION_FEE_BPS", 100)
	viper.SetDefault("LENDING_INTEREST_RATE", "0.08")
	viper.SetDefault("LENDING_LIQUIDATION_THRESHOLD_BPS", 7500)
	viper.SetDefault("RENT_DEFAULT_MANAGEMENT_FEE_PERCENT", "0")
	viper.SetDefault("DISTRIBUTION_INTERVAL", "0s")
	viper.SetDefault("DISTRIBUTION_LOCK_TTL", "10m")
	viper.SetDefault("MIRROR_WORKERS", 4)
	viper.SetDefault("MIRROR_MAX_RETRY", 5)
	viper.SetDefault("NATS_STREAM", "LEDGER")

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL_DEV")
	}

	rate, err := decimal.NewFromString(viper.GetString("LENDING_INTEREST_RATE"))
	if err != nil {
		return nil, err
	}
	mgmtFee, err := decimal.NewFromString(viper.GetString("RENT_DEFAULT_MANAGEMENT_FEE_PERCENT"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Env:                 env,
		Port:                viper.GetString("PORT"),
		LogLevel:            viper.GetString("LOG_LEVEL"),
		SessionSecret:       viper.GetString("SESSION_SECRET"),
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		StripeSecretKey:     viper.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: viper.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeCurrency:      viper.GetString("STRIPE_CURRENCY"),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		Lending: LendingConfig{
			MaxLtvBps:               viper.GetInt64("LENDING_MAX_LTV_BPS"),
			OriginationFeeBps:       viper.GetInt64("LENDING_ORIGINATION_FEE_BPS"),
			InterestRate:            rate,
			LiquidationThresholdBps: viper.GetInt64("LENDING_LIQUIDATION_THRESHOLD_BPS"),
		},
		Rent: RentConfig{
			DefaultManagementFeePercent: mgmtFee,
		},
		Distribution: DistributionConfig{
			Interval: viper.GetDuration("DISTRIBUTION_INTERVAL"),
			LockTTL:  viper.GetDuration("DISTRIBUTION_LOCK_TTL"),
		},
		Mirror: MirrorConfig{
			RPCURL:          viper.GetString("MIRROR_RPC_URL"),
			ContractAddress: viper.GetString("MIRROR_CONTRACT_ADDRESS"),
			PrivateKey:      viper.GetString("MIRROR_PRIVATE_KEY"),
			Workers:         viper.GetInt("MIRROR_WORKERS"),
			MaxRetry:        viper.GetInt("MIRROR_MAX_RETRY"),
		},
		NATS: NATSConfig{
			URL:    viper.GetString("NATS_URL"),
			Stream: viper.GetString("NATS_STREAM"),
		},
	}, nil
}

// DefaultLending returns the loan policy used when nothing is configured.
func DefaultLending() LendingConfig {
	return LendingConfig{
		MaxLtvBps:               5000,
		OriginationFeeBps:       100,
		InterestRate:            decimal.RequireFromString("0.08"),
		LiquidationThresholdBps: 7500,
	}
}
