package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MAX_DUPLICATE_COUNT", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("TRACE_SAMPLE_RATIO", "")
	t.Setenv("KAFKA_RETRY_BACKOFF_MS", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 100, cfg.Inventory.MaxDuplicateCount)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, "account-inventory", cfg.Server.Name)
	assert.Equal(t, 1.0, cfg.Observ.TraceSampleRatio)
	assert.Equal(t, 500, cfg.Kafka.RetryBackoffMillis)
}

func TestLoadLeavesJWTSecretEmpty(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")

	cfg := Load()

	assert.Empty(t, cfg.Admin.JWTSecret)
}

func TestValidateRequiresJWTSecretInProduction(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")
	t.Setenv("ENV", "production")

	cfg := Load()
	assert.ErrorIs(t, cfg.Validate(), ErrMissingJWTSecret)

	cfg.Admin.JWTSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateAllowsEmptySecretOutsideProduction(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")
	t.Setenv("ENV", "development")

	cfg := Load()

	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MAX_DUPLICATE_COUNT", "25")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("ADMIN_RATE_LIMIT_PER_SEC", "2.5")
	t.Setenv("SERVICE_NAME", "inventory-canary")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 25, cfg.Inventory.MaxDuplicateCount)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Database.Migrate)
	assert.Equal(t, 2.5, cfg.Admin.RateLimitPerSec)
	assert.Equal(t, "inventory-canary", cfg.Server.Name)
	assert.Equal(t, 0.25, cfg.Observ.TraceSampleRatio)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("RESERVATION_TTL_SECONDS", "soon")

	cfg := Load()

	assert.Equal(t, 900, cfg.Inventory.ReservationTTLSeconds)
}
