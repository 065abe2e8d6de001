package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Settlement   SettlementConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

// Load reads PACKFINDERZ_* variables into a Config. Every validation failure
// is reported, not only the first.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.ensureDSN(),
		cfg.Settlement.validate(),
		cfg.Cron.validate(),
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PACKFINDERZ_APP_ENV" required:"true"`
	Port         string `envconfig:"PACKFINDERZ_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PACKFINDERZ_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"PACKFINDERZ_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"PACKFINDERZ_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists the seller dashboard origins allowed to call the API.
	CORSOrigins []string `envconfig:"PACKFINDERZ_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"PACKFINDERZ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PACKFINDERZ_DB_DSN"`
	Driver string `envconfig:"PACKFINDERZ_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PACKFINDERZ_DB_HOST"`
	LegacyPort     int    `envconfig:"PACKFINDERZ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PACKFINDERZ_DB_USER"`
	LegacyPassword string `envconfig:"PACKFINDERZ_DB_PASSWORD"`
	LegacyName     string `envconfig:"PACKFINDERZ_DB_NAME"`
	LegacySSLMode  string `envconfig:"PACKFINDERZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PACKFINDERZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PACKFINDERZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	TxMaxAttempts int           `envconfig:"PACKFINDERZ_DB_TX_MAX_ATTEMPTS" default:"3"`
	TxBaseBackoff time.Duration `envconfig:"PACKFINDERZ_DB_TX_BASE_BACKOFF" default:"100ms"`
	TxMaxBackoff  time.Duration `envconfig:"PACKFINDERZ_DB_TX_MAX_BACKOFF" default:"2s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PACKFINDERZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PACKFINDERZ_REDIS_ADDR"`
	Password     string        `envconfig:"PACKFINDERZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"PACKFINDERZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PACKFINDERZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PACKFINDERZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PACKFINDERZ_REDIS_WRITE_TIMEOUT" default:"5s"`
	// Namespace prefixes every key so the settlement engine can share an
	// instance with the marketplace API.
	Namespace string `envconfig:"PACKFINDERZ_REDIS_NAMESPACE" default:"pf"`
}

// JWTConfig verifies bearer tokens minted by the auth service.
type JWTConfig struct {
	Secret string `envconfig:"PACKFINDERZ_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PACKFINDERZ_JWT_ISSUER" required:"true"`
	// ExpirationMinutes only applies to tokens minted by operator tooling.
	ExpirationMinutes int `envconfig:"PACKFINDERZ_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PACKFINDERZ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PACKFINDERZ_AUTO_MIGRATE" default:"false"`
	// SellerPayouts gates the seller-triggered payout endpoint; the scheduled scan always runs.
	SellerPayouts bool `envconfig:"PACKFINDERZ_FEATURE_SELLER_PAYOUTS" default:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PACKFINDERZ_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PACKFINDERZ_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PACKFINDERZ_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"PACKFINDERZ_PUBSUB_SETTLEMENT_TOPIC" default:"pf-settlement-events"`
	SettlementSubscription string `envconfig:"PACKFINDERZ_PUBSUB_SETTLEMENT_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PACKFINDERZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// RetentionDays bounds how long published rows are kept before the cron worker prunes them.
	RetentionDays int `envconfig:"PACKFINDERZ_OUTBOX_RETENTION_DAYS" default:"30"`
	// DLQRetentionDays bounds how long dead-lettered events stay available for replay.
	DLQRetentionDays int `envconfig:"PACKFINDERZ_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
	// MetricsAddr is where the publisher serves /metrics; empty disables it.
	MetricsAddr string `envconfig:"PACKFINDERZ_OUTBOX_METRICS_ADDR" default:":9091"`
}

type StripeConfig struct {
	APIKey   string `envconfig:"PACKFINDERZ_STRIPE_API_KEY"`
	Secret   string `envconfig:"PACKFINDERZ_STRIPE_SECRET"`
	Env      string `envconfig:"PACKFINDERZ_STRIPE_ENV" default:"test"`
	Currency string `envconfig:"PACKFINDERZ_STRIPE_CURRENCY" default:"usd"`
	// WebhookTTL bounds how long a delivered event id is remembered in redis.
	WebhookTTL time.Duration `envconfig:"PACKFINDERZ_STRIPE_WEBHOOK_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// SettlementConfig holds the fee schedule and hold window applied to new ledger entries.
type SettlementConfig struct {
	HoldDays           int             `envconfig:"PACKFINDERZ_SETTLEMENT_HOLD_DAYS" default:"30"`
	PlatformFeeRate    decimal.Decimal `envconfig:"PACKFINDERZ_SETTLEMENT_PLATFORM_FEE_RATE" default:"0.05"`
	ProcessingFeeRate  decimal.Decimal `envconfig:"PACKFINDERZ_SETTLEMENT_PROCESSING_FEE_RATE" default:"0.029"`
	ProcessingFeeFixed decimal.Decimal `envconfig:"PACKFINDERZ_SETTLEMENT_PROCESSING_FEE_FIXED" default:"0.30"`
	PayoutRetryAfter   time.Duration   `envconfig:"PACKFINDERZ_SETTLEMENT_PAYOUT_RETRY_AFTER" default:"60s"`
}

func (s SettlementConfig) validate() error {
	var err error
	if s.HoldDays < 1 {
		err = multierr.Append(err, fmt.Errorf("%s must be at least 1", EnvSettlementHoldDays))
	}
	for name, fee := range map[string]decimal.Decimal{
		"platform fee rate":    s.PlatformFeeRate,
		"processing fee rate":  s.ProcessingFeeRate,
		"processing fee fixed": s.ProcessingFeeFixed,
	} {
		if fee.IsNegative() {
			err = multierr.Append(err, fmt.Errorf("settlement %s must be non-negative", name))
		}
	}
	return err
}

// RateLimitConfig throttles the seller payout surface. A zero limit disables the counter.
type RateLimitConfig struct {
	Window           time.Duration `envconfig:"PACKFINDERZ_RATE_LIMIT_WINDOW" default:"1m"`
	PayoutsPerSeller int           `envconfig:"PACKFINDERZ_RATE_LIMIT_PAYOUTS_PER_SELLER" default:"5"`
	ReadsPerSeller   int           `envconfig:"PACKFINDERZ_RATE_LIMIT_READS_PER_SELLER" default:"120"`
}

type CronConfig struct {
	// Tick is how often the worker wakes to check which jobs are due.
	Tick               time.Duration `envconfig:"PACKFINDERZ_CRON_TICK" default:"1m"`
	PayoutReleaseEvery time.Duration `envconfig:"PACKFINDERZ_CRON_PAYOUT_RELEASE_EVERY" default:"1h"`
	RetentionEvery     time.Duration `envconfig:"PACKFINDERZ_CRON_RETENTION_EVERY" default:"24h"`
	LockTTL            time.Duration `envconfig:"PACKFINDERZ_CRON_LOCK_TTL" default:"10m"`
}

func (c CronConfig) validate() error {
	if c.Tick <= 0 || c.PayoutReleaseEvery <= 0 || c.RetentionEvery <= 0 {
		return fmt.Errorf("cron tick and job intervals must be positive")
	}
	if c.LockTTL < c.Tick {
		return fmt.Errorf("PACKFINDERZ_CRON_LOCK_TTL (%s) must be at least %s (%s)", c.LockTTL, EnvCronTick, c.Tick)
	}
	return nil
}

// ensureDSN assembles a postgres URL from the split PACKFINDERZ_DB_* parts
// when no DSN is given.
func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	var missing []string
	for env, value := range map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s is unset and so are %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	user := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		user = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   "/" + db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
