package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the resolved runtime configuration for the funding engine.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageDriver string
	DatabaseURL   string
	MaxDBConns    int32
	RedisURL      string

	KafkaBrokers  []string
	KafkaGroupID  string
	KafkaInTopics []string
	TopicByEvent  map[string]string

	JWTHMACSecret     string
	JWTIssuer         string
	AllowEphemeralJWT bool

	OracleURL    string
	OracleAPIKey string
	VerifierAddr string
	// LocalVerifierResult answers proofs when no verifier service is configured.
	LocalVerifierResult string

	CollateralMultiplier decimal.Decimal
	BlockReleaseOnBreach bool
	Tiers                domain.TierTable

	VerificationTimeout time.Duration
	OracleTimeout       time.Duration
	OracleConcurrency   int
	OracleStaleAfter    time.Duration
	ValuationCacheTTL   time.Duration
	IdempotencyTTL      time.Duration
	EventDedupTTL       time.Duration
	LockTTL             time.Duration
	RevenueMaxAge       time.Duration
	RevenueClockSkew    time.Duration

	OutboxPollInterval      time.Duration
	OutboxBatchSize         int
	OutboxClaimTTL          time.Duration
	OutboxMaxRetries        int
	ConsumerPollInterval    time.Duration
	ConsumerMaxAttempts     int
	OverdueSweepInterval    time.Duration
	CollateralSweepInterval time.Duration
	SweepBatchSize          int
}

// configFile mirrors configs/default.yaml. Durations are Go duration strings.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		StorageDriver string   `yaml:"storage_driver"`
		PostgresURL   string   `yaml:"postgres_url"`
		RedisURL      string   `yaml:"redis_url"`
		KafkaBrokers  []string `yaml:"kafka_brokers"`
		OracleURL     string   `yaml:"oracle_url"`
		VerifierAddr  string   `yaml:"verifier_addr"`
	} `yaml:"dependencies"`
	Auth struct {
		Issuer         string `yaml:"issuer"`
		AllowEphemeral *bool  `yaml:"allow_ephemeral"`
	} `yaml:"auth"`
	Events struct {
		GroupID      string            `yaml:"group_id"`
		InTopics     []string          `yaml:"in_topics"`
		TopicByEvent map[string]string `yaml:"topic_by_event"`
	} `yaml:"events"`
	Policy struct {
		CollateralMultiplier string            `yaml:"collateral_multiplier"`
		BlockReleaseOnBreach *bool             `yaml:"block_release_on_breach"`
		VerificationTimeout  string            `yaml:"verification_timeout"`
		OracleTimeout        string            `yaml:"oracle_timeout"`
		OracleConcurrency    int               `yaml:"oracle_concurrency"`
		OracleStaleAfter     string            `yaml:"oracle_stale_after"`
		ValuationCacheTTL    string            `yaml:"valuation_cache_ttl"`
		IdempotencyTTL       string            `yaml:"idempotency_ttl"`
		EventDedupTTL        string            `yaml:"event_dedup_ttl"`
		LockTTL              string            `yaml:"lock_ttl"`
		RevenueMaxAge        string            `yaml:"revenue_max_age"`
		RevenueClockSkew     string            `yaml:"revenue_clock_skew"`
		LocalVerifierResult  string            `yaml:"local_verifier_result"`
		Tiers                []domain.TierSpec `yaml:"tiers"`
	} `yaml:"policy"`
	Worker struct {
		OutboxPollInterval      string `yaml:"outbox_poll_interval"`
		OutboxBatchSize         int    `yaml:"outbox_batch_size"`
		OutboxMaxRetries        int    `yaml:"outbox_max_retries"`
		OverdueSweepInterval    string `yaml:"overdue_sweep_interval"`
		CollateralSweepInterval string `yaml:"collateral_sweep_interval"`
		SweepBatchSize          int    `yaml:"sweep_batch_size"`
	} `yaml:"worker"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error; a malformed one, or an invalid tier table, is.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:               "IPledge-Funding-Engine",
		HTTPPort:                8080,
		GRPCPort:                9090,
		MaxDBConns:              20,
		KafkaGroupID:            "ipledge-funding-engine",
		KafkaInTopics:           []string{domain.EventRevenueReceived, domain.EventValuationUpdated},
		TopicByEvent:            map[string]string{},
		JWTIssuer:               "",
		AllowEphemeralJWT:       true,
		LocalVerifierResult:     "pending",
		CollateralMultiplier:    domain.DefaultCollateralMultiplier,
		Tiers:                   domain.DefaultTierTable(),
		VerificationTimeout:     10 * time.Second,
		OracleTimeout:           3 * time.Second,
		OracleConcurrency:       8,
		OracleStaleAfter:        24 * time.Hour,
		ValuationCacheTTL:       7 * 24 * time.Hour,
		IdempotencyTTL:          7 * 24 * time.Hour,
		EventDedupTTL:           7 * 24 * time.Hour,
		LockTTL:                 15 * time.Second,
		RevenueMaxAge:           application.DefaultRevenueMaxAge,
		RevenueClockSkew:        24 * time.Hour,
		OutboxPollInterval:      2 * time.Second,
		OutboxBatchSize:         100,
		OutboxClaimTTL:          30 * time.Second,
		OutboxMaxRetries:        5,
		ConsumerPollInterval:    time.Second,
		ConsumerMaxAttempts:     3,
		OverdueSweepInterval:    time.Minute,
		CollateralSweepInterval: 15 * time.Minute,
		SweepBatchSize:          100,
	}

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if err := applyFile(&cfg, f); err != nil {
			return Config{}, err
		}
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = envOrDefault("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.JWTHMACSecret = envOrDefault("JWT_HMAC_SECRET", cfg.JWTHMACSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)
	cfg.OracleURL = envOrDefault("ORACLE_URL", cfg.OracleURL)
	cfg.OracleAPIKey = envOrDefault("ORACLE_API_KEY", cfg.OracleAPIKey)
	cfg.VerifierAddr = envOrDefault("VERIFIER_ADDR", cfg.VerifierAddr)
	cfg.BlockReleaseOnBreach = envBool("BLOCK_RELEASE_ON_BREACH", cfg.BlockReleaseOnBreach)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.OutboxPollInterval = envDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.VerificationTimeout = envDuration("VERIFICATION_TIMEOUT", cfg.VerificationTimeout)
	cfg.OracleTimeout = envDuration("ORACLE_TIMEOUT", cfg.OracleTimeout)
	cfg.LockTTL = envDuration("LOCK_TTL", cfg.LockTTL)

	if raw := os.Getenv("COLLATERAL_MULTIPLIER"); raw != "" {
		m, err := decimal.NewFromString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("COLLATERAL_MULTIPLIER: %w", err)
		}
		cfg.CollateralMultiplier = m
	}

	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageMemory
		if cfg.DatabaseURL != "" {
			cfg.StorageDriver = StoragePostgres
		}
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("storage driver postgres requires DB_URL/POSTGRES_URL")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.JWTHMACSecret == "" && !c.AllowEphemeralJWT {
		return fmt.Errorf("missing JWT_HMAC_SECRET")
	}
	if c.CollateralMultiplier.IsNegative() {
		return fmt.Errorf("collateral multiplier must not be negative")
	}
	switch c.LocalVerifierResult {
	case "accepted", "rejected", "pending":
	default:
		return fmt.Errorf("local verifier result %q must be accepted, rejected or pending", c.LocalVerifierResult)
	}
	if err := c.Tiers.Validate(); err != nil {
		return fmt.Errorf("policy tiers: %w", err)
	}
	return nil
}

func applyFile(cfg *Config, f configFile) error {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Dependencies.StorageDriver != "" {
		cfg.StorageDriver = f.Dependencies.StorageDriver
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.OracleURL != "" {
		cfg.OracleURL = f.Dependencies.OracleURL
	}
	if f.Dependencies.VerifierAddr != "" {
		cfg.VerifierAddr = f.Dependencies.VerifierAddr
	}
	if f.Auth.Issuer != "" {
		cfg.JWTIssuer = f.Auth.Issuer
	}
	if f.Auth.AllowEphemeral != nil {
		cfg.AllowEphemeralJWT = *f.Auth.AllowEphemeral
	}
	if f.Events.GroupID != "" {
		cfg.KafkaGroupID = f.Events.GroupID
	}
	if len(f.Events.InTopics) > 0 {
		cfg.KafkaInTopics = f.Events.InTopics
	}
	for event, topic := range f.Events.TopicByEvent {
		cfg.TopicByEvent[event] = topic
	}

	p := f.Policy
	if p.CollateralMultiplier != "" {
		m, err := decimal.NewFromString(p.CollateralMultiplier)
		if err != nil {
			return fmt.Errorf("policy.collateral_multiplier: %w", err)
		}
		cfg.CollateralMultiplier = m
	}
	if p.BlockReleaseOnBreach != nil {
		cfg.BlockReleaseOnBreach = *p.BlockReleaseOnBreach
	}
	if p.OracleConcurrency > 0 {
		cfg.OracleConcurrency = p.OracleConcurrency
	}
	if p.LocalVerifierResult != "" {
		cfg.LocalVerifierResult = p.LocalVerifierResult
	}
	if len(p.Tiers) > 0 {
		tiers, err := domain.ParseTierTable(p.Tiers)
		if err != nil {
			return fmt.Errorf("policy.tiers: %w", err)
		}
		cfg.Tiers = tiers
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"policy.verification_timeout", p.VerificationTimeout, &cfg.VerificationTimeout},
		{"policy.oracle_timeout", p.OracleTimeout, &cfg.OracleTimeout},
		{"policy.oracle_stale_after", p.OracleStaleAfter, &cfg.OracleStaleAfter},
		{"policy.valuation_cache_ttl", p.ValuationCacheTTL, &cfg.ValuationCacheTTL},
		{"policy.idempotency_ttl", p.IdempotencyTTL, &cfg.IdempotencyTTL},
		{"policy.event_dedup_ttl", p.EventDedupTTL, &cfg.EventDedupTTL},
		{"policy.lock_ttl", p.LockTTL, &cfg.LockTTL},
		{"policy.revenue_max_age", p.RevenueMaxAge, &cfg.RevenueMaxAge},
		{"policy.revenue_clock_skew", p.RevenueClockSkew, &cfg.RevenueClockSkew},
		{"worker.outbox_poll_interval", f.Worker.OutboxPollInterval, &cfg.OutboxPollInterval},
		{"worker.overdue_sweep_interval", f.Worker.OverdueSweepInterval, &cfg.OverdueSweepInterval},
		{"worker.collateral_sweep_interval", f.Worker.CollateralSweepInterval, &cfg.CollateralSweepInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if f.Worker.OutboxBatchSize > 0 {
		cfg.OutboxBatchSize = f.Worker.OutboxBatchSize
	}
	if f.Worker.OutboxMaxRetries > 0 {
		cfg.OutboxMaxRetries = f.Worker.OutboxMaxRetries
	}
	if f.Worker.SweepBatchSize > 0 {
		cfg.SweepBatchSize = f.Worker.SweepBatchSize
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
