package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	values map[string]string
	maps   map[string]map[string]string
}

func (f *fakeSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := f.values[name]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func (f *fakeSecrets) GetSecretMap(_ context.Context, name string) (map[string]string, error) {
	if v, ok := f.maps[name]; ok {
		return v, nil
	}
	return nil, errors.New("not found")
}

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "")
	t.Setenv("JOB_MAX_ATTEMPTS", "")
	t.Setenv("USER_SERVICE_URL", "")
	t.Setenv("EVENT_BACKEND", "")

	cfg := FromEnv()
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 10, cfg.JobMaxAttempts)
	assert.Equal(t, "http://localhost:8000/user", cfg.UserServiceURL)
	assert.Equal(t, "GHS", cfg.DefaultCurrency)
	assert.True(t, cfg.VerifyWebhookSignature)
	assert.Equal(t, 30*time.Minute, cfg.OrphanDonationAge)
	assert.Equal(t, EventBackendSNS, cfg.EventBackend)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "2s")
	t.Setenv("JOB_MAX_ATTEMPTS", "3")
	t.Setenv("CAUSE_SERVICE_URL", "http://causes:8001/")
	t.Setenv("VERIFY_WEBHOOK_SIGNATURE", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.app, https://b.app")

	cfg := FromEnv()
	assert.Equal(t, 2*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 3, cfg.JobMaxAttempts)
	assert.Equal(t, "http://causes:8001", cfg.CauseServiceURL)
	assert.False(t, cfg.VerifyWebhookSignature)
	assert.Equal(t, []string{"https://a.app", "https://b.app"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	cfg := &Config{JobQueueBackend: JobBackendRedis}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_USER")
	assert.Contains(t, err.Error(), "PAYSTACK_SECRET_KEY")

	cfg = &Config{
		PostgresUser: "u", PostgresPassword: "p", PostgresDB: "d",
		PaystackSecretKey: "sk", JobQueueBackend: JobBackendSQS, EventBackend: EventBackendSNS,
	}
	require.Error(t, cfg.Validate())
	cfg.JobQueueURL = "https://sqs/jobs"
	require.NoError(t, cfg.Validate())

	cfg.EventBackend = EventBackendKafka
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
	cfg.KafkaBrokers = []string{"kafka:9092"}
	require.NoError(t, cfg.Validate())

	cfg.JobQueueBackend = "kafka"
	require.Error(t, cfg.Validate())
}

func TestApplySecrets(t *testing.T) {
	cfg := &Config{PostgresUser: "env-user", PostgresHost: "env-host", AdminAPIKey: "env-admin"}
	src := &fakeSecrets{
		maps: map[string]map[string]string{
			SecretDBCredentials: {"POSTGRES_USER": "sm-user", "POSTGRES_PASSWORD": "sm-pw", "POSTGRES_HOST": ""},
		},
		values: map[string]string{SecretPaystackKey: "sk_live"},
	}

	require.NoError(t, cfg.ApplySecrets(context.Background(), src))
	assert.Equal(t, "sm-user", cfg.PostgresUser)
	assert.Equal(t, "sm-pw", cfg.PostgresPassword)
	assert.Equal(t, "env-host", cfg.PostgresHost)
	assert.Equal(t, "sk_live", cfg.PaystackSecretKey)
	assert.Equal(t, "env-admin", cfg.AdminAPIKey)

	err := (&Config{}).ApplySecrets(context.Background(), &fakeSecrets{})
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresUser: "u", PostgresPassword: "p", PostgresDB: "donations",
		PostgresPort: "5432", PostgresSSLMode: "disable", PostgresTimeZone: "UTC",
	}
	assert.Equal(t, "host=db user=u password=p dbname=donations port=5432 sslmode=disable TimeZone=UTC", cfg.PostgresDSN())
}
