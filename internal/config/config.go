/**
 * @description
 * Configuration management for the settlement service. Settings come from
 * environment variables with defaults for schedules and limits. The webhook
 * signing secret is mandatory: a deployment without one must fail to start
 * rather than accept unsigned payloads.
 */
package config

import (
	"errors"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	StripeAPIKey        string `mapstructure:"STRIPE_API_KEY"`
	StripeAPIBaseURL    string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	RedisURL            string `mapstructure:"REDIS_URL"`
	InternalAPIKey      string `mapstructure:"INTERNAL_API_KEY"`
	AdminJWKSURL        string `mapstructure:"ADMIN_JWKS_URL"`

	PayoutJobSchedule   string `mapstructure:"PAYOUT_JOB_SCHEDULE"`
	AccountSyncSchedule string `mapstructure:"ACCOUNT_SYNC_SCHEDULE"`
	JobTimeoutMinutes   int    `mapstructure:"JOB_TIMEOUT_MINUTES"`

	OnboardingRefreshURL string `mapstructure:"ONBOARDING_REFRESH_URL"`
	OnboardingReturnURL  string `mapstructure:"ONBOARDING_RETURN_URL"`

	WebhookRateLimit         int `mapstructure:"WEBHOOK_RATE_LIMIT"`
	WebhookRateWindowSeconds int `mapstructure:"WEBHOOK_RATE_WINDOW_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PAYOUT_JOB_SCHEDULE", "0 6 * * 1")      // At 06:00 on Monday.
	viper.SetDefault("ACCOUNT_SYNC_SCHEDULE", "0 */6 * * *")  // Every six hours.
	viper.SetDefault("JOB_TIMEOUT_MINUTES", 10)
	viper.SetDefault("WEBHOOK_RATE_LIMIT", 120)
	viper.SetDefault("WEBHOOK_RATE_WINDOW_SECONDS", 60)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STRIPE_API_KEY")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("PAYOUT_JOB_SCHEDULE")
	_ = viper.BindEnv("ACCOUNT_SYNC_SCHEDULE")
	_ = viper.BindEnv("JOB_TIMEOUT_MINUTES")
	_ = viper.BindEnv("ONBOARDING_REFRESH_URL")
	_ = viper.BindEnv("ONBOARDING_RETURN_URL")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT")
	_ = viper.BindEnv("WEBHOOK_RATE_WINDOW_SECONDS")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}
	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}

	if config.DatabaseURL == "" {
		return config, errors.New("DATABASE_URL is required")
	}
	if config.StripeWebhookSecret == "" {
		// Never fall back to accepting unsigned webhook traffic.
		return config, errors.New("STRIPE_WEBHOOK_SECRET is required")
	}

	return
}
