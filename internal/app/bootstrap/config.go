package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	ServiceID   string
	Environment string
	LogLevel    string
	HTTPPort    int
	GRPCPort    int

	StorageDriver string
	DatabaseURL   string
	DBMaxConns    int32
	RunMigrations bool
	RedisURL      string

	KafkaBrokers     []string
	KafkaGroupID     string
	KafkaInputTopics []string
	KafkaTopics      map[string]string
	KafkaDLQTopic    string

	JWTSecret        string
	JWTIssuer        string
	WebhookSecret    string
	WebhookTolerance time.Duration

	Currency           string
	MinimumWithdrawal  decimal.Decimal
	AttributionWindow  time.Duration
	MaturationPeriod   time.Duration
	Rates              domain.RateTable
	DefaultTier        string
	CodeLength         int
	CodeMaxAttempts    int
	MaxConflictRetries int

	SweepInterval        time.Duration
	SweepBatchSize       int
	OutboxInterval       time.Duration
	OutboxBatchSize      int
	OutboxMaxRetries     int
	OutboxClaimTTL       time.Duration
	ConsumerPollInterval time.Duration
	IdempotencyTTL       time.Duration
	EventDedupTTL        time.Duration
	LockTTL              time.Duration
	LockWait             time.Duration
}

type configFile struct {
	Service struct {
		ID          string `yaml:"id"`
		Environment string `yaml:"environment"`
		LogLevel    string `yaml:"log_level"`
		HTTPPort    int    `yaml:"http_port"`
		GRPCPort    int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Driver        string `yaml:"driver"`
		URL           string `yaml:"url"`
		MaxConns      int    `yaml:"max_conns"`
		RunMigrations *bool  `yaml:"run_migrations"`
	} `yaml:"storage"`
	Redis struct {
		URL            string `yaml:"url"`
		LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
		LockWaitMillis int    `yaml:"lock_wait_ms"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers     []string          `yaml:"brokers"`
		GroupID     string            `yaml:"group_id"`
		InputTopics []string          `yaml:"input_topics"`
		Topics      map[string]string `yaml:"topics"`
		DLQTopic    string            `yaml:"dlq_topic"`
	} `yaml:"kafka"`
	Auth struct {
		JWTIssuer               string `yaml:"jwt_issuer"`
		WebhookToleranceSeconds int    `yaml:"webhook_tolerance_seconds"`
	} `yaml:"auth"`
	Ledger struct {
		Currency           string `yaml:"currency"`
		MinimumWithdrawal  string `yaml:"minimum_withdrawal"`
		MaxConflictRetries int    `yaml:"max_conflict_retries"`
	} `yaml:"ledger"`
	Attribution struct {
		WindowDays int `yaml:"window_days"`
	} `yaml:"attribution"`
	Commission struct {
		MaturationDays int                          `yaml:"maturation_days"`
		DefaultTier    string                       `yaml:"default_tier"`
		Rates          map[string]map[string]string `yaml:"rates"`
	} `yaml:"commission"`
	Codes struct {
		Length      int `yaml:"length"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"codes"`
	Runtime struct {
		SweepIntervalSeconds  int `yaml:"sweep_interval_seconds"`
		SweepBatchSize        int `yaml:"sweep_batch_size"`
		OutboxIntervalSeconds int `yaml:"outbox_interval_seconds"`
		OutboxBatchSize       int `yaml:"outbox_batch_size"`
		OutboxMaxRetries      int `yaml:"outbox_max_retries"`
		OutboxClaimSeconds    int `yaml:"outbox_claim_seconds"`
		ConsumerPollSeconds   int `yaml:"consumer_poll_seconds"`
		IdempotencyTTLHours   int `yaml:"idempotency_ttl_hours"`
		EventDedupTTLHours    int `yaml:"event_dedup_ttl_hours"`
	} `yaml:"runtime"`
}

func defaultConfig() Config {
	return Config{
		ServiceID:            "M89-Affiliate-Ledger",
		Environment:          "development",
		LogLevel:             "info",
		HTTPPort:             8080,
		GRPCPort:             9090,
		StorageDriver:        StorageMemory,
		DBMaxConns:           10,
		RunMigrations:        true,
		KafkaGroupID:         "affiliate-ledger",
		KafkaInputTopics:     []string{domain.EventPaymentSucceeded, domain.EventPaymentRefunded, domain.EventPaymentChargeback},
		KafkaTopics:          map[string]string{},
		KafkaDLQTopic:        "affiliate.ledger.dlq",
		JWTIssuer:            "viralforge",
		WebhookTolerance:     300 * time.Second,
		Currency:             "USD",
		MinimumWithdrawal:    domain.DefaultMinimumWithdrawal,
		AttributionWindow:    domain.DefaultAttributionWindow,
		MaturationPeriod:     domain.DefaultMaturationPeriod,
		Rates:                domain.DefaultRateTable(),
		DefaultTier:          domain.TierPrime,
		CodeLength:           8,
		CodeMaxAttempts:      8,
		MaxConflictRetries:   5,
		SweepInterval:        5 * time.Minute,
		SweepBatchSize:       500,
		OutboxInterval:       2 * time.Second,
		OutboxBatchSize:      100,
		OutboxMaxRetries:     5,
		OutboxClaimTTL:       30 * time.Second,
		ConsumerPollInterval: 2 * time.Second,
		IdempotencyTTL:       7 * 24 * time.Hour,
		EventDedupTTL:        7 * 24 * time.Hour,
		LockTTL:              10 * time.Second,
		LockWait:             5 * time.Second,
	}
}

// LoadConfig layers defaults, the YAML file at path (optional) and the
// environment, in that order.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if raw, err := os.ReadFile(path); err == nil {
		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		if err := applyFile(&cfg, f); err != nil {
			return Config{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) error {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.Environment != "" {
		cfg.Environment = f.Service.Environment
	}
	if f.Service.LogLevel != "" {
		cfg.LogLevel = f.Service.LogLevel
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = f.Storage.Driver
	}
	if f.Storage.URL != "" {
		cfg.DatabaseURL = f.Storage.URL
	}
	if f.Storage.MaxConns > 0 {
		cfg.DBMaxConns = int32(f.Storage.MaxConns)
	}
	if f.Storage.RunMigrations != nil {
		cfg.RunMigrations = *f.Storage.RunMigrations
	}
	if f.Redis.URL != "" {
		cfg.RedisURL = f.Redis.URL
	}
	if f.Redis.LockTTLSeconds > 0 {
		cfg.LockTTL = time.Duration(f.Redis.LockTTLSeconds) * time.Second
	}
	if f.Redis.LockWaitMillis > 0 {
		cfg.LockWait = time.Duration(f.Redis.LockWaitMillis) * time.Millisecond
	}
	if len(f.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = f.Kafka.Brokers
	}
	if f.Kafka.GroupID != "" {
		cfg.KafkaGroupID = f.Kafka.GroupID
	}
	if len(f.Kafka.InputTopics) > 0 {
		cfg.KafkaInputTopics = f.Kafka.InputTopics
	}
	for event, topic := range f.Kafka.Topics {
		cfg.KafkaTopics[event] = topic
	}
	if f.Kafka.DLQTopic != "" {
		cfg.KafkaDLQTopic = f.Kafka.DLQTopic
	}
	if f.Auth.JWTIssuer != "" {
		cfg.JWTIssuer = f.Auth.JWTIssuer
	}
	if f.Auth.WebhookToleranceSeconds > 0 {
		cfg.WebhookTolerance = time.Duration(f.Auth.WebhookToleranceSeconds) * time.Second
	}
	if f.Ledger.Currency != "" {
		cfg.Currency = f.Ledger.Currency
	}
	if f.Ledger.MinimumWithdrawal != "" {
		v, err := decimal.NewFromString(f.Ledger.MinimumWithdrawal)
		if err != nil {
			return fmt.Errorf("ledger.minimum_withdrawal: %w", err)
		}
		cfg.MinimumWithdrawal = v
	}
	if f.Ledger.MaxConflictRetries > 0 {
		cfg.MaxConflictRetries = f.Ledger.MaxConflictRetries
	}
	if f.Attribution.WindowDays > 0 {
		cfg.AttributionWindow = time.Duration(f.Attribution.WindowDays) * 24 * time.Hour
	}
	if f.Commission.MaturationDays > 0 {
		cfg.MaturationPeriod = time.Duration(f.Commission.MaturationDays) * 24 * time.Hour
	}
	if f.Commission.DefaultTier != "" {
		cfg.DefaultTier = f.Commission.DefaultTier
	}
	if len(f.Commission.Rates) > 0 {
		rates, err := parseRates(f.Commission.Rates)
		if err != nil {
			return err
		}
		cfg.Rates = rates
	}
	if f.Codes.Length > 0 {
		cfg.CodeLength = f.Codes.Length
	}
	if f.Codes.MaxAttempts > 0 {
		cfg.CodeMaxAttempts = f.Codes.MaxAttempts
	}
	if f.Runtime.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(f.Runtime.SweepIntervalSeconds) * time.Second
	}
	if f.Runtime.SweepBatchSize > 0 {
		cfg.SweepBatchSize = f.Runtime.SweepBatchSize
	}
	if f.Runtime.OutboxIntervalSeconds > 0 {
		cfg.OutboxInterval = time.Duration(f.Runtime.OutboxIntervalSeconds) * time.Second
	}
	if f.Runtime.OutboxBatchSize > 0 {
		cfg.OutboxBatchSize = f.Runtime.OutboxBatchSize
	}
	if f.Runtime.OutboxMaxRetries > 0 {
		cfg.OutboxMaxRetries = f.Runtime.OutboxMaxRetries
	}
	if f.Runtime.OutboxClaimSeconds > 0 {
		cfg.OutboxClaimTTL = time.Duration(f.Runtime.OutboxClaimSeconds) * time.Second
	}
	if f.Runtime.ConsumerPollSeconds > 0 {
		cfg.ConsumerPollInterval = time.Duration(f.Runtime.ConsumerPollSeconds) * time.Second
	}
	if f.Runtime.IdempotencyTTLHours > 0 {
		cfg.IdempotencyTTL = time.Duration(f.Runtime.IdempotencyTTLHours) * time.Hour
	}
	if f.Runtime.EventDedupTTLHours > 0 {
		cfg.EventDedupTTL = time.Duration(f.Runtime.EventDedupTTLHours) * time.Hour
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.Environment = envOrDefault("APP_ENV", cfg.Environment)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.StorageDriver = strings.ToLower(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.DBMaxConns = int32(envInt("DB_MAX_CONNS", int(cfg.DBMaxConns)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = envOrDefault("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.KafkaInputTopics = envCSV("KAFKA_INPUT_TOPICS", cfg.KafkaInputTopics)
	cfg.KafkaDLQTopic = envOrDefault("KAFKA_DLQ_TOPIC", cfg.KafkaDLQTopic)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.WebhookSecret = envOrDefault("PAYMENT_WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.WebhookTolerance = time.Duration(envInt("PAYMENT_WEBHOOK_TOLERANCE_SECONDS", int(cfg.WebhookTolerance.Seconds()))) * time.Second
	cfg.Currency = strings.ToUpper(envOrDefault("LEDGER_CURRENCY", cfg.Currency))
	minimum, err := envDecimal("MINIMUM_WITHDRAWAL", cfg.MinimumWithdrawal)
	if err != nil {
		return err
	}
	cfg.MinimumWithdrawal = minimum
	cfg.AttributionWindow = time.Duration(envInt("ATTRIBUTION_WINDOW_DAYS", int(cfg.AttributionWindow.Hours()/24))) * 24 * time.Hour
	cfg.MaturationPeriod = time.Duration(envInt("MATURATION_DAYS", int(cfg.MaturationPeriod.Hours()/24))) * 24 * time.Hour
	cfg.DefaultTier = envOrDefault("DEFAULT_TIER", cfg.DefaultTier)
	cfg.CodeLength = envInt("REFERRAL_CODE_LENGTH", cfg.CodeLength)
	cfg.MaxConflictRetries = envInt("LEDGER_MAX_CONFLICT_RETRIES", cfg.MaxConflictRetries)
	cfg.SweepInterval = time.Duration(envInt("SWEEP_INTERVAL_SECONDS", int(cfg.SweepInterval.Seconds()))) * time.Second
	cfg.SweepBatchSize = envInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.EventDedupTTL = time.Duration(envInt("EVENT_DEDUP_TTL_HOURS", int(cfg.EventDedupTTL.Hours()))) * time.Hour
	cfg.RunMigrations = envBool("RUN_MIGRATIONS", cfg.RunMigrations)
	return nil
}

func (c Config) Validate() error {
	var problems []string
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			problems = append(problems, "missing DB_URL/POSTGRES_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		problems = append(problems, "missing JWT_SECRET")
	}
	if c.Environment == "production" && strings.TrimSpace(c.WebhookSecret) == "" {
		problems = append(problems, "missing PAYMENT_WEBHOOK_SECRET")
	}
	if err := c.Rates.Validate(); err != nil {
		problems = append(problems, "invalid commission rates: "+err.Error())
	}
	if _, err := domain.NormalizeTier(c.DefaultTier); err != nil {
		problems = append(problems, fmt.Sprintf("invalid default tier %q", c.DefaultTier))
	}
	if !c.MinimumWithdrawal.IsPositive() {
		problems = append(problems, "minimum withdrawal must be positive")
	}
	if c.HTTPPort <= 0 || c.GRPCPort <= 0 {
		problems = append(problems, "ports must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func parseRates(raw map[string]map[string]string) (domain.RateTable, error) {
	out := domain.RateTable{}
	for tier, plans := range raw {
		normalized, err := domain.NormalizeTier(tier)
		if err != nil {
			return nil, fmt.Errorf("commission.rates: %w", err)
		}
		out[normalized] = map[string]decimal.Decimal{}
		for plan, value := range plans {
			rate, err := decimal.NewFromString(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("commission.rates.%s.%s: %w", tier, plan, err)
			}
			out[normalized][domain.NormalizePlan(plan)] = rate
		}
	}
	return out, nil
}

func envOrDefault(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDecimal(name string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
