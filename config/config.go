package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"github.com/joho/godotenv"
)

// Secrets Manager names read when AWS_USE_SECRETS=true.
const (
	SecretDBCredentials   = "donation/DB_CREDENTIALS"
	SecretPaystackKey     = "donation/PAYSTACK_SECRET_KEY"
	SecretAdminServiceKey = "donation/ADMIN_SERVICE_API_KEY"
	SecretJWT             = "donation/JWT_SECRET"
)

const (
	JobBackendRedis = "redis"
	JobBackendSQS   = "sqs"
)

const (
	EventBackendSNS   = "sns"
	EventBackendKafka = "kafka"
)

type Config struct {
	Port string
	Env  string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL string

	PaystackSecretKey      string
	PaystackBaseURL        string
	PaystackCallbackURL    string
	GatewayTimeout         time.Duration
	VerifyWebhookSignature bool

	// Collaborators
	UserServiceURL      string
	CauseServiceURL     string
	CollaboratorTimeout time.Duration

	AdminAPIKey     string
	JWTSecret       string
	DefaultCurrency string

	EventBackend          string
	DonationSNSTopicARN   string
	WithdrawalSNSTopicARN string
	KafkaBrokers          []string
	KafkaDonationTopic    string
	KafkaWithdrawalTopic  string

	JobQueueBackend     string
	JobQueueURL         string
	JobMaxAttempts      int
	TransferVerifyDelay time.Duration

	CheckoutLockTTL   time.Duration
	IdempotencyTTL    time.Duration
	OrphanDonationAge time.Duration
	SweepInterval     time.Duration

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string

	AllowedOrigins     []string
	RateLimitPerMinute int
}

// SecretSource is satisfied by *aws_pkg.SecretsClient.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads the environment (after an optional .env file) and, when
// AWS_USE_SECRETS=true, overrides credentials from Secrets Manager.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := FromEnv()

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx, nil)
		if err != nil {
			return nil, err
		}
		if err := cfg.ApplySecrets(ctx, aws_pkg.NewSecretsClient(awsCfg)); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads every setting from the process environment with defaults.
func FromEnv() *Config {
	return &Config{
		Port: getEnv("PORT", "8002"),
		Env:  getEnv("APP_ENV", "development"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Africa/Accra"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		PaystackSecretKey:      os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:        getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		PaystackCallbackURL:    os.Getenv("PAYSTACK_CALLBACK_URL"),
		GatewayTimeout:         getDuration("GATEWAY_TIMEOUT", 5*time.Second),
		VerifyWebhookSignature: getBool("VERIFY_WEBHOOK_SIGNATURE", true),

		UserServiceURL:      strings.TrimSuffix(getEnv("USER_SERVICE_URL", "http://localhost:8000/user"), "/"),
		CauseServiceURL:     strings.TrimSuffix(getEnv("CAUSE_SERVICE_URL", "http://localhost:8001"), "/"),
		CollaboratorTimeout: getDuration("COLLABORATOR_TIMEOUT", 5*time.Second),

		AdminAPIKey:     os.Getenv("ADMIN_SERVICE_API_KEY"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "GHS"),

		EventBackend:          strings.ToLower(getEnv("EVENT_BACKEND", EventBackendSNS)),
		DonationSNSTopicARN:   os.Getenv("DONATION_SNS_TOPIC_ARN"),
		WithdrawalSNSTopicARN: os.Getenv("WITHDRAWAL_SNS_TOPIC_ARN"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaDonationTopic:    getEnv("KAFKA_DONATION_TOPIC", "donation-events"),
		KafkaWithdrawalTopic:  getEnv("KAFKA_WITHDRAWAL_TOPIC", "withdrawal-events"),

		JobQueueBackend:     strings.ToLower(getEnv("JOB_QUEUE_BACKEND", JobBackendRedis)),
		JobQueueURL:         os.Getenv("JOB_QUEUE_URL"),
		JobMaxAttempts:      getInt("JOB_MAX_ATTEMPTS", 10),
		TransferVerifyDelay: getDuration("TRANSFER_VERIFY_DELAY", 60*time.Second),

		CheckoutLockTTL:   getDuration("CHECKOUT_LOCK_TTL", 30*time.Second),
		IdempotencyTTL:    getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		OrphanDonationAge: getDuration("ORPHAN_DONATION_AGE", 30*time.Minute),
		SweepInterval:     getDuration("SWEEP_INTERVAL", 5*time.Minute),

		CloudWatchEnabled:   getBool("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", aws_pkg.DefaultMetricsNamespace),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", aws_pkg.DefaultLogGroup),

		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// ApplySecrets overrides credentials with the values present in src. A
// missing secret keeps the environment value; any other lookup failure on
// DB credentials is returned.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) error {
	creds, err := src.GetSecretMap(ctx, SecretDBCredentials)
	if err != nil {
		return fmt.Errorf("load %s: %w", SecretDBCredentials, err)
	}
	override(&c.PostgresUser, creds["POSTGRES_USER"])
	override(&c.PostgresPassword, creds["POSTGRES_PASSWORD"])
	override(&c.PostgresDB, creds["POSTGRES_DB"])
	override(&c.PostgresHost, creds["POSTGRES_HOST"])
	override(&c.PostgresPort, creds["POSTGRES_PORT"])

	if v, err := src.GetSecret(ctx, SecretPaystackKey); err == nil {
		override(&c.PaystackSecretKey, v)
	}
	if v, err := src.GetSecret(ctx, SecretAdminServiceKey); err == nil {
		override(&c.AdminAPIKey, v)
	}
	if v, err := src.GetSecret(ctx, SecretJWT); err == nil {
		override(&c.JWTSecret, v)
	}
	return nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.PostgresUser == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if c.PostgresPassword == "" {
		missing = append(missing, "POSTGRES_PASSWORD")
	}
	if c.PostgresDB == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if c.PaystackSecretKey == "" {
		missing = append(missing, "PAYSTACK_SECRET_KEY")
	}
	if c.JobQueueBackend == JobBackendSQS && c.JobQueueURL == "" {
		missing = append(missing, "JOB_QUEUE_URL")
	}
	if c.EventBackend == EventBackendKafka && len(c.KafkaBrokers) == 0 {
		missing = append(missing, "KAFKA_BROKERS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.JobQueueBackend != JobBackendRedis && c.JobQueueBackend != JobBackendSQS {
		return fmt.Errorf("unknown JOB_QUEUE_BACKEND %q", c.JobQueueBackend)
	}
	if c.EventBackend != EventBackendSNS && c.EventBackend != EventBackendKafka {
		return fmt.Errorf("unknown EVENT_BACKEND %q", c.EventBackend)
	}
	return nil
}

// PostgresDSN renders the key/value DSN understood by pgx.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
