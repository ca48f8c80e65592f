package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Port              string
	DBConn            string
	StorageDriver     string
	MigrationsEnabled bool
	LogLevel          string
	JWTSecret         string
	AdminRole         string
	TxMaxRetries      int
	DefaultFDRate     decimal.Decimal
	Location          *time.Location

	SweepCron          string
	InterestCron       string
	InterestAnnualRate decimal.Decimal
	DepositRateMargin  decimal.Decimal
	CBRURL             string
	MirrorResync       time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// NewConfig loads configuration from environment variables and an optional .env file
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=deposits sslmode=disable"),
		StorageDriver: getEnv("STORAGE_DRIVER", DriverPostgres),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		AdminRole:     getEnv("ADMIN_ROLE", "admin"),
		SweepCron:     getEnv("SWEEP_CRON", "0 5 0 * * *"),
		InterestCron:  getEnv("INTEREST_CRON", ""),
		CBRURL:        getEnv("CBR_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SenderEmail:   getEnv("SENDER_EMAIL", "noreply@deposits.local"),
	}

	var err error
	if cfg.MigrationsEnabled, err = strconv.ParseBool(getEnv("MIGRATIONS_ENABLED", "true")); err != nil {
		return nil, fmt.Errorf("invalid MIGRATIONS_ENABLED: %w", err)
	}
	if cfg.TxMaxRetries, err = strconv.Atoi(getEnv("TX_MAX_RETRIES", "5")); err != nil {
		return nil, fmt.Errorf("invalid TX_MAX_RETRIES: %w", err)
	}
	if cfg.DefaultFDRate, err = decimal.NewFromString(getEnv("DEFAULT_FD_RATE", "0.08")); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_FD_RATE: %w", err)
	}
	if cfg.InterestAnnualRate, err = decimal.NewFromString(getEnv("INTEREST_ANNUAL_RATE", "0")); err != nil {
		return nil, fmt.Errorf("invalid INTEREST_ANNUAL_RATE: %w", err)
	}
	if cfg.DepositRateMargin, err = decimal.NewFromString(getEnv("DEPOSIT_RATE_MARGIN", "2")); err != nil {
		return nil, fmt.Errorf("invalid DEPOSIT_RATE_MARGIN: %w", err)
	}
	if cfg.MirrorResync, err = time.ParseDuration(getEnv("MIRROR_RESYNC", "1m")); err != nil {
		return nil, fmt.Errorf("invalid MIRROR_RESYNC: %w", err)
	}
	if cfg.Location, err = time.LoadLocation(getEnv("LEDGER_TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("invalid LEDGER_TIMEZONE: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges
func (c *Config) Validate() error {
	if c.StorageDriver != DriverPostgres && c.StorageDriver != DriverMemory {
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StorageDriver)
	}
	if c.StorageDriver == DriverPostgres && c.DBConn == "" {
		return fmt.Errorf("DB_CONN is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TxMaxRetries < 1 {
		return fmt.Errorf("TX_MAX_RETRIES must be at least 1")
	}
	if c.DefaultFDRate.IsNegative() || c.DefaultFDRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("DEFAULT_FD_RATE must be a fraction in [0, 1)")
	}
	if c.MirrorResync < 0 {
		return fmt.Errorf("MIRROR_RESYNC must not be negative")
	}
	if c.InterestAnnualRate.IsNegative() {
		return fmt.Errorf("INTEREST_ANNUAL_RATE must not be negative")
	}
	return nil
}

// MailEnabled reports whether SMTP delivery is configured
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
