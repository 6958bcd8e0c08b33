package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	PaymentAPIURL        string
	PaymentAPIKey        string
	PaymentPixKey        string
	PaymentWebhookSecret string
	ChargeTTL            time.Duration

	SMSAPIURL       string
	SMSAPIKey       string
	SMSCountry      string
	SMSCodeAttempts int
	SMSCodeInterval time.Duration

	EngagementAPIURL string
	EngagementAPIKey string

	ProviderRPS     float64
	ProviderTimeout time.Duration

	NotifyURL    string
	NotifySecret string

	MinTopUp decimal.Decimal
}

// Load reads configuration from the environment, after merging a .env file
// if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on process environment")
	}

	cfg := &Config{
		DBSource: os.Getenv("DB_SOURCE"),
		Port:     getEnv("SERVER_PORT", "8080"),
		Env:      getEnv("ENVIRONMENT", "development"),

		PaymentAPIURL:        getEnv("PAYMENT_API_URL", "https://api.paguepix.com/v1"),
		PaymentAPIKey:        os.Getenv("PAYMENT_API_KEY"),
		PaymentPixKey:        os.Getenv("PAYMENT_PIX_KEY"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),

		SMSAPIURL:  getEnv("SMS_API_URL", "https://api.sms-activate.org/stubs/handler_api.php"),
		SMSAPIKey:  os.Getenv("SMS_API_KEY"),
		SMSCountry: getEnv("SMS_COUNTRY", "br"),

		EngagementAPIURL: getEnv("ENGAGEMENT_API_URL", "https://apexseguidores.com.br/api/v2"),
		EngagementAPIKey: os.Getenv("ENGAGEMENT_API_KEY"),

		NotifyURL:    os.Getenv("NOTIFY_URL"),
		NotifySecret: os.Getenv("NOTIFY_SECRET"),
	}

	var err error
	if cfg.ChargeTTL, err = getDuration("PAYMENT_CHARGE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SMSCodeInterval, err = getDuration("SMS_CODE_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SMSCodeAttempts, err = getInt("SMS_CODE_ATTEMPTS", 24); err != nil {
		return nil, err
	}
	if cfg.SMSCodeAttempts <= 0 {
		return nil, fmt.Errorf("SMS_CODE_ATTEMPTS must be positive")
	}

	rps := getEnv("PROVIDER_RPS", "5")
	if cfg.ProviderRPS, err = strconv.ParseFloat(rps, 64); err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_RPS %q: %w", rps, err)
	}

	minTopUp := getEnv("MIN_TOPUP", "5.00")
	if cfg.MinTopUp, err = decimal.NewFromString(minTopUp); err != nil {
		return nil, fmt.Errorf("invalid MIN_TOPUP %q: %w", minTopUp, err)
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
