package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.True(t, cfg.CollateralMultiplier.Equal(domain.DefaultCollateralMultiplier))
	assert.Equal(t, domain.DefaultTierTable(), cfg.Tiers)
	assert.Equal(t, []string{domain.EventRevenueReceived, domain.EventValuationUpdated}, cfg.KafkaInTopics)
}

func TestLoadConfigReadsFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  id: funding-test
  http_port: 8100
dependencies:
  postgres_url: postgres://file/db
  kafka_brokers: [file:9092]
policy:
  collateral_multiplier: "2"
  block_release_on_breach: true
  verification_timeout: 4s
  revenue_max_age: 8760h
  tiers:
    - upper_bound: "1000"
      creator: "0.5"
      investor: "0.4"
      protocol: "0.1"
    - creator: "0.6"
      investor: "0.3"
      protocol: "0.1"
worker:
  overdue_sweep_interval: 30s
`)
	t.Setenv("HTTP_PORT", "8200")
	t.Setenv("KAFKA_BROKERS", "a:9092, ,b:9092")
	t.Setenv("STORAGE_DRIVER", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "funding-test", cfg.ServiceID)
	assert.Equal(t, 8200, cfg.HTTPPort)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "2", cfg.CollateralMultiplier.String())
	assert.True(t, cfg.BlockReleaseOnBreach)
	assert.Equal(t, 4*time.Second, cfg.VerificationTimeout)
	assert.Equal(t, 365*24*time.Hour, cfg.RevenueMaxAge)
	assert.Equal(t, 24*time.Hour, cfg.RevenueClockSkew)
	assert.Equal(t, 30*time.Second, cfg.OverdueSweepInterval)
	require.Len(t, cfg.Tiers, 2)

	alloc, err := cfg.Tiers.Distribute(domain.Major(2000))
	require.NoError(t, err)
	assert.Equal(t, domain.Major(2000), alloc.Total())
}

func TestLoadConfigRejectsBadTiers(t *testing.T) {
	path := writeConfig(t, `
policy:
  tiers:
    - upper_bound: "1000"
      creator: "0.5"
      investor: "0.5"
      protocol: "0.1"
`)
	_, err := LoadConfig(path)
	require.ErrorIs(t, err, domain.ErrInvalidTierConfig)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "postgres")
		_, err := LoadConfig(writeConfig(t, ""))
		require.ErrorContains(t, err, "DB_URL")
	})
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "cassandra")
		_, err := LoadConfig(writeConfig(t, ""))
		require.ErrorContains(t, err, "unknown storage driver")
	})
	t.Run("secret required when ephemeral disabled", func(t *testing.T) {
		t.Setenv("JWT_ALLOW_EPHEMERAL", "false")
		_, err := LoadConfig(writeConfig(t, ""))
		require.ErrorContains(t, err, "JWT_HMAC_SECRET")
	})
	t.Run("malformed duration", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "policy:\n  lock_ttl: soon\n"))
		require.ErrorContains(t, err, "policy.lock_ttl")
	})
	t.Run("bad multiplier env", func(t *testing.T) {
		t.Setenv("COLLATERAL_MULTIPLIER", "lots")
		_, err := LoadConfig(writeConfig(t, ""))
		require.ErrorContains(t, err, "COLLATERAL_MULTIPLIER")
	})
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("IPLEDGE_TEST_BOOL", "yes")
	t.Setenv("IPLEDGE_TEST_INT", "nope")
	assert.True(t, envBool("IPLEDGE_TEST_BOOL", false))
	assert.Equal(t, 7, envInt("IPLEDGE_TEST_INT", 7))
	assert.Equal(t, []string{"x"}, envCSV("IPLEDGE_TEST_UNSET", []string{"x"}))
}
