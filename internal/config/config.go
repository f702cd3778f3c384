package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string

	// Server
	ApiPort           string
	ServiceApiPort    string
	CorsAllowedOrigin string

	// Billing
	InvoiceConsolidateDefault    bool
	InvoiceNotificationsEnabled  bool
	WhatsAppNotificationsEnabled bool
	InvoiceScheduleEnabled       bool
	ForceMonthlyBackfill         bool

	// Notifications
	MockServices         bool
	LogNotificationsPath string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3 (run report archive)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	ReportsPrefix      string

	// App Defaults
	AppName string

	// Rate Limiting
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// ServesAPI reports whether the run mode starts the HTTP API.
func (c *Config) ServesAPI() bool {
	return c.RunMode == "api" || c.RunMode == "all"
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		RunMode: runMode,
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getBool := func(key string, defaultValue bool) (bool, error) {
		raw := getEnv(key, strconv.FormatBool(defaultValue))
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return v, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "cms")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	if cfg.ServesAPI() {
		cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
		if err != nil {
			return nil, err
		}
	} else {
		cfg.JwtSecret = getEnv("JWT_SECRET", "")
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CorsAllowedOrigin = getEnv("CORS_ALLOWED_ORIGIN", "")
	cfg.AppName = getEnv("APP_NAME", "CMS")
	cfg.LogNotificationsPath = getEnv("LOG_NOTIFICATIONS", "")

	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@cms.example.com")

	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.ReportsPrefix = getEnv("REPORTS_PREFIX", "invoice-runs")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	if cfg.InvoiceConsolidateDefault, err = getBool("INVOICE_CONSOLIDATE_DEFAULT", true); err != nil {
		return nil, err
	}
	if cfg.InvoiceNotificationsEnabled, err = getBool("INVOICE_NOTIFICATIONS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.WhatsAppNotificationsEnabled, err = getBool("WHATSAPP_NOTIFICATIONS_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.InvoiceScheduleEnabled, err = getBool("INVOICE_SCHEDULE_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.ForceMonthlyBackfill, err = getBool("FORCE_MONTHLY_BACKFILL", false); err != nil {
		return nil, err
	}
	if cfg.MockServices, err = getBool("MOCK_SERVICES", false); err != nil {
		return nil, err
	}

	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
