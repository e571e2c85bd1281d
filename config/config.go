package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	awspkg "github.com/mrugaya/storefront-backend/pkg/aws"

	"github.com/joho/godotenv"
)

const (
	razorpaySecretName = "storefront/RAZORPAY"
	dbSecretName       = "storefront/DB_CREDENTIALS"
)

type Config struct {
	Port   string
	AppEnv string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL string

	RazorpayKeyID     string
	RazorpayKeySecret string

	ReconcileMaxRetries int
	ReconcileInterval   time.Duration
	ReconcileRetention  time.Duration
	RequestTimeout      time.Duration
	CheckoutSessionTTL  time.Duration

	EventSink        string // sns, kafka or none
	OrderSNSTopicARN string
	KafkaBrokers     []string
	KafkaTopic       string

	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int
	RateLimitBurst int

	AWSRegion          string
	AWSEndpoint        string
	UseSecretsManager  bool
	CloudWatchMetrics  bool
	CloudWatchLogs     bool
	CloudWatchLogGroup string
}

// SecretSource resolves a JSON secret into key/value pairs.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads .env (if present) and the environment. When
// AWS_USE_SECRETS=true the Razorpay and database credentials are taken from
// Secrets Manager.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var secrets SecretSource
	if os.Getenv("AWS_USE_SECRETS") == "true" {
		awsCfg, err := awspkg.LoadAWSConfig(ctx, getEnv("AWS_REGION", "ap-south-1"), os.Getenv("AWS_ENDPOINT"))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		secrets = awspkg.NewSecretsClient(awsCfg)
	}
	return Load(ctx, secrets)
}

// Load builds the config from the environment, overlaying secrets when a
// source is given.
func Load(ctx context.Context, secrets SecretSource) (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "5000"),
		AppEnv:              getEnv("APP_ENV", "development"),
		PostgresUser:        os.Getenv("POSTGRES_USER"),
		PostgresPassword:    os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:          os.Getenv("POSTGRES_DB"),
		PostgresHost:        os.Getenv("POSTGRES_HOST"),
		PostgresPort:        getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:     getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone:    getEnv("POSTGRES_TIMEZONE", "Asia/Kolkata"),
		RedisURL:            os.Getenv("REDIS_URL"),
		RazorpayKeyID:       os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:   os.Getenv("RAZORPAY_KEY_SECRET"),
		ReconcileMaxRetries: getEnvInt("RECONCILE_MAX_RETRIES", 5),
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 3*time.Second),
		ReconcileRetention:  getEnvDuration("RECONCILE_RETENTION", 15*time.Minute),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		CheckoutSessionTTL:  getEnvDuration("CHECKOUT_SESSION_TTL", 30*time.Minute),
		EventSink:           strings.ToLower(getEnv("EVENT_SINK", "none")),
		OrderSNSTopicARN:    os.Getenv("ORDER_SNS_TOPIC_ARN"),
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "storefront-orders"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", 120),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 20),
		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSEndpoint:         os.Getenv("AWS_ENDPOINT"),
		UseSecretsManager:   os.Getenv("AWS_USE_SECRETS") == "true",
		CloudWatchMetrics:   os.Getenv("CLOUDWATCH_METRICS_ENABLED") == "true",
		CloudWatchLogs:      os.Getenv("CLOUDWATCH_LOGS_ENABLED") == "true",
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/storefront/services"),
	}

	if secrets != nil {
		if err := cfg.applySecrets(ctx, secrets); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applySecrets(ctx context.Context, secrets SecretSource) error {
	rzp, err := secrets.GetSecretMap(ctx, razorpaySecretName)
	if err != nil {
		return fmt.Errorf("read %s: %w", razorpaySecretName, err)
	}
	override(&c.RazorpayKeyID, rzp["RAZORPAY_KEY_ID"])
	override(&c.RazorpayKeySecret, rzp["RAZORPAY_KEY_SECRET"])

	db, err := secrets.GetSecretMap(ctx, dbSecretName)
	if err != nil {
		return fmt.Errorf("read %s: %w", dbSecretName, err)
	}
	override(&c.PostgresUser, db["POSTGRES_USER"])
	override(&c.PostgresPassword, db["POSTGRES_PASSWORD"])
	override(&c.PostgresDB, db["POSTGRES_DB"])
	override(&c.PostgresHost, db["POSTGRES_HOST"])
	override(&c.PostgresPort, db["POSTGRES_PORT"])
	return nil
}

func (c *Config) validate() error {
	var errs []error
	if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
		errs = append(errs, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required"))
	}
	if c.PostgresHost == "" || c.PostgresUser == "" || c.PostgresDB == "" {
		errs = append(errs, errors.New("database config incomplete"))
	}
	if c.ReconcileMaxRetries < 0 || c.ReconcileInterval <= 0 || c.ReconcileRetention <= 0 {
		errs = append(errs, errors.New("reconcile retries must be >= 0, interval and retention > 0"))
	}
	if c.CheckoutSessionTTL <= 0 {
		errs = append(errs, errors.New("CHECKOUT_SESSION_TTL must be positive"))
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive"))
	}
	switch c.EventSink {
	case "none", "kafka":
	case "sns":
		if c.OrderSNSTopicARN == "" {
			errs = append(errs, errors.New("ORDER_SNS_TOPIC_ARN is required when EVENT_SINK=sns"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_SINK %q", c.EventSink))
	}
	return errors.Join(errs...)
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// getEnvDuration accepts Go durations ("3s") or plain milliseconds ("3000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
