package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// Postgres
	PostgresURI     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnMaxLifeMi int // minutes

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Server
	ApiPort        string
	ServiceApiPort string

	// Invoicing
	DefaultVatRate     float64
	DefaultCurrency    string
	InvoiceDueDays     int
	InvoiceNumPrefix   string
	MinPaymentCents    int64
	ItemPurgeAfterDays int

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	LogoMaxDimension   int
	LogoMaxSizeMB      int

	// App Defaults
	AppName          string
	DashboardTTL     time.Duration
	PresignLinkTTL   time.Duration
	RecentItemsLimit int
	PageSize         int

	// Rate Limiting Defaults
	RateLimitSoftBucketSize int
	RateLimitSoftRefillRate int // tokens per second
	RateLimitHardBucketSize int
	RateLimitHardRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	// Load basic string values
	cfg.PostgresURI, err = getRequiredEnv("POSTGRES_URI")
	if err != nil {
		return nil, err
	}
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "billing@fakturomat.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.AppName = getEnv("APP_NAME", "Fakturomat")
	cfg.DefaultCurrency = getEnv("DEFAULT_CURRENCY", "EUR")
	cfg.InvoiceNumPrefix = getEnv("INVOICE_NUMBER_PREFIX", "INV")

	// Load numeric and time duration values with defaults and parsing
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.DBMaxOpenConns, err = strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	cfg.DBMaxIdleConns, err = strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DBConnMaxLifeMi, err = strconv.Atoi(getEnv("DB_CONN_MAX_LIFETIME_MINUTES", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME_MINUTES: %w", err)
	}

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.DefaultVatRate, err = strconv.ParseFloat(getEnv("DEFAULT_VAT_RATE", "20.00"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_VAT_RATE: %w", err)
	}

	cfg.InvoiceDueDays, err = strconv.Atoi(getEnv("INVOICE_DUE_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid INVOICE_DUE_DAYS: %w", err)
	}

	cfg.MinPaymentCents, err = strconv.ParseInt(getEnv("MIN_PAYMENT_CENTS", "100"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_PAYMENT_CENTS: %w", err)
	}

	cfg.ItemPurgeAfterDays, err = strconv.Atoi(getEnv("ITEM_PURGE_AFTER_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid ITEM_PURGE_AFTER_DAYS: %w", err)
	}

	cfg.LogoMaxDimension, err = strconv.Atoi(getEnv("LOGO_MAX_DIMENSION", "512"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOGO_MAX_DIMENSION: %w", err)
	}

	cfg.LogoMaxSizeMB, err = strconv.Atoi(getEnv("LOGO_MAX_SIZE_MB", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOGO_MAX_SIZE_MB: %w", err)
	}

	dashboardTTLSeconds, err := strconv.ParseInt(getEnv("DASHBOARD_CACHE_TTL_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DASHBOARD_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.DashboardTTL = time.Duration(dashboardTTLSeconds) * time.Second

	presignTTLMinutes, err := strconv.ParseInt(getEnv("PRESIGN_LINK_TTL_MINUTES", "15"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PRESIGN_LINK_TTL_MINUTES: %w", err)
	}
	cfg.PresignLinkTTL = time.Duration(presignTTLMinutes) * time.Minute

	cfg.RecentItemsLimit, err = strconv.Atoi(getEnv("RECENT_ITEMS_LIMIT", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECENT_ITEMS_LIMIT: %w", err)
	}

	cfg.PageSize, err = strconv.Atoi(getEnv("PAGE_SIZE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAGE_SIZE: %w", err)
	}

	// Rate Limiting
	cfg.RateLimitSoftBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_BUCKET_SIZE", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitSoftRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_REFILL_RATE", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_REFILL_RATE: %w", err)
	}
	cfg.RateLimitHardBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitHardRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
