package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Payment gateway configuration
	Gateway GatewayConfig

	// Outbox dispatcher configuration
	Outbox OutboxConfig

	// Vendor commission configuration
	Commission CommissionConfig

	// Resilience policies for outbound gateway calls
	Resilience ResilienceConfig

	// KMS (transit encryption) configuration
	KMS KMSConfig

	// Message bus configuration
	Bus BusConfig

	// Service token configuration
	ServiceToken ServiceTokenConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// GatewayConfig holds Razorpay-compatible gateway credentials
type GatewayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string // SECRET - never expose to client
	AccountNumber string // RazorpayX account debited for payouts
	WebhookSecret string // HMAC secret for inbound webhooks
	Timeout       time.Duration
}

// OutboxConfig holds outbox dispatcher configuration
type OutboxConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RetentionDays int
}

// CommissionConfig holds the platform commission rate
type CommissionConfig struct {
	Percent string // decimal, whole percent, e.g. "10" or "12.5"
}

// PolicyConfig holds one named resilience policy
type PolicyConfig struct {
	FailureRateThreshold float64 // 0..1, breaker opens above this
	SlidingWindowSize    int
	WaitDurationInOpen   time.Duration
	RetryAttempts        int
	BackoffInitial       time.Duration
	BackoffMultiplier    float64
}

// ResilienceConfig holds the named policies for outbound gateway calls
type ResilienceConfig struct {
	OrdersAPI   PolicyConfig
	PaymentsAPI PolicyConfig
	PayoutsAPI  PolicyConfig
}

// KMSConfig holds transit encryption configuration
type KMSConfig struct {
	URI           string
	Token         string // SECRET
	PIIKey        string // named key for envelope encryption
	HMACKey       string // named key for deterministic search HMAC
	DevMode       bool   // base64 dev provider; refused in production
	DevHMACSecret string // local HMAC secret, dev provider only
}

// BusConfig holds message bus (JetStream) configuration
type BusConfig struct {
	URL          string
	StreamName   string
	UserTopic    string
	ConsentTopic string
	GDPRTopic    string
	AuditTopic   string
	PaymentTopic string
	PayoutTopic  string
}

// ServiceTokenConfig holds internal service token configuration
type ServiceTokenConfig struct {
	Secret string
	Expiry time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Gateway: GatewayConfig{
			BaseURL:       getEnv("GATEWAY_BASE_URL", "https://api.razorpay.com"),
			KeyID:         getEnv("GATEWAY_KEY_ID", ""),
			KeySecret:     getEnv("GATEWAY_KEY_SECRET", ""),
			AccountNumber: getEnv("GATEWAY_ACCOUNT_NUMBER", ""),
			WebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),
			Timeout:       time.Duration(getEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Outbox: OutboxConfig{
			PollInterval:  time.Duration(getEnvAsInt("OUTBOX_POLL_INTERVAL_SECONDS", 30)) * time.Second,
			BatchSize:     getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
			MaxAttempts:   getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 3),
			RetentionDays: getEnvAsInt("OUTBOX_RETENTION_DAYS", 7),
		},
		Commission: CommissionConfig{
			Percent: getEnv("COMMISSION_PERCENT", "10"),
		},
		Resilience: ResilienceConfig{
			OrdersAPI:   loadPolicy("GATEWAY_ORDERS"),
			PaymentsAPI: loadPolicy("GATEWAY_PAYMENTS"),
			PayoutsAPI:  loadPolicy("GATEWAY_PAYOUTS"),
		},
		KMS: KMSConfig{
			URI:           getEnv("KMS_URI", ""),
			Token:         getEnv("KMS_TOKEN", ""),
			PIIKey:        getEnv("KMS_KEY_PII", "user_pii"),
			HMACKey:       getEnv("KMS_KEY_HMAC", "user_search_hmac"),
			DevMode:       getEnvAsBool("CRYPTO_DEV_MODE", false),
			DevHMACSecret: getEnv("CRYPTO_DEV_HMAC_SECRET", ""),
		},
		Bus: BusConfig{
			URL:          getEnv("BUS_URL", "nats://localhost:4222"),
			StreamName:   getEnv("BUS_STREAM_NAME", "DOMAIN_EVENTS"),
			UserTopic:    getEnv("BUS_TOPIC_USER", "user-events"),
			ConsentTopic: getEnv("BUS_TOPIC_CONSENT", "consent-events"),
			GDPRTopic:    getEnv("BUS_TOPIC_GDPR", "gdpr-events"),
			AuditTopic:   getEnv("BUS_TOPIC_AUDIT", "audit-events"),
			PaymentTopic: getEnv("BUS_TOPIC_PAYMENT", "payment-events"),
			PayoutTopic:  getEnv("BUS_TOPIC_PAYOUT", "payout-events"),
		},
		ServiceToken: ServiceTokenConfig{
			Secret: getEnv("SERVICE_TOKEN_SECRET", ""),
			Expiry: time.Duration(getEnvAsInt("SERVICE_TOKEN_EXPIRY", 3600)) * time.Second,
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadPolicy reads one named resilience policy from the environment
func loadPolicy(prefix string) PolicyConfig {
	return PolicyConfig{
		FailureRateThreshold: getEnvAsFloat(prefix+"_FAILURE_RATE_THRESHOLD", 0.5),
		SlidingWindowSize:    getEnvAsInt(prefix+"_SLIDING_WINDOW_SIZE", 20),
		WaitDurationInOpen:   time.Duration(getEnvAsInt(prefix+"_WAIT_OPEN_SECONDS", 30)) * time.Second,
		RetryAttempts:        getEnvAsInt(prefix+"_RETRY_ATTEMPTS", 3),
		BackoffInitial:       time.Duration(getEnvAsInt(prefix+"_BACKOFF_INITIAL_MS", 200)) * time.Millisecond,
		BackoffMultiplier:    getEnvAsFloat(prefix+"_BACKOFF_MULTIPLIER", 2.0),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ServiceToken.Secret == "" {
		return fmt.Errorf("SERVICE_TOKEN_SECRET is required")
	}

	if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
		return fmt.Errorf("GATEWAY_KEY_ID and GATEWAY_KEY_SECRET are required")
	}

	if c.Gateway.WebhookSecret == "" {
		return fmt.Errorf("GATEWAY_WEBHOOK_SECRET is required")
	}

	// The dev crypto provider must never reach production. A production
	// deployment has to point at a real transit KMS.
	if c.Server.Environment == "production" {
		if c.KMS.DevMode {
			return fmt.Errorf("CRYPTO_DEV_MODE must not be enabled in production")
		}
		if c.KMS.URI == "" || c.KMS.Token == "" {
			return fmt.Errorf("KMS_URI and KMS_TOKEN are required in production")
		}
		if c.Gateway.AccountNumber == "" {
			return fmt.Errorf("GATEWAY_ACCOUNT_NUMBER is required in production")
		}
	} else if !c.KMS.DevMode && c.KMS.URI == "" {
		return fmt.Errorf("KMS_URI is required unless CRYPTO_DEV_MODE=true")
	}

	if c.KMS.DevMode && c.KMS.DevHMACSecret == "" {
		return fmt.Errorf("CRYPTO_DEV_HMAC_SECRET is required when CRYPTO_DEV_MODE=true")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %f", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}
