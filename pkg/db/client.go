package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

// Client owns the settlement database pool and the transaction retry policy.
type Client struct {
	conn     *gorm.DB
	retry    RetryPolicy
	logg     *logger.Logger
	observer TxObserver
}

// TxOptions selects the isolation level for a scoped transaction.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// Serializable is the isolation used by every money-moving operation.
var Serializable = TxOptions{Isolation: sql.LevelSerializable}

// TxObserver is told about conflict retries and transactions that gave up.
type TxObserver interface {
	ObserveTxRetry(attempt int)
	ObserveTxFailure()
}

const slowQueryThreshold = 500 * time.Millisecond

// New opens postgres through pgx, or sqlite when the flag is set, and applies
// the pool limits from cfg.
func New(ctx context.Context, cfg config.DBConfig, flags config.FeatureFlagsConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := gorm.Open(dialectorFor(cfg, flags), &gorm.Config{
		Logger:                 queryLogger(ctx, logg),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}
	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	configurePool(pool, cfg)

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"driver":         dialectName(flags),
			"max_open_conns": cfg.MaxOpenConns,
		}), "db.connected")
	}
	return &Client{
		conn: conn,
		logg: logg,
		retry: RetryPolicy{
			MaxAttempts: cfg.TxMaxAttempts,
			BaseDelay:   cfg.TxBaseBackoff,
			MaxDelay:    cfg.TxMaxBackoff,
		},
	}, nil
}

// NewFromConn wraps an open connection. Tests and settlectl use it with sqlite.
func NewFromConn(conn *gorm.DB, policy RetryPolicy) *Client {
	return &Client{conn: conn, retry: policy}
}

func dialectorFor(cfg config.DBConfig, flags config.FeatureFlagsConfig) gorm.Dialector {
	if flags.UseSQLite {
		return sqlite.Open(cfg.DSN)
	}
	return postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
}

func dialectName(flags config.FeatureFlagsConfig) string {
	if flags.UseSQLite {
		return "sqlite"
	}
	return "postgres"
}

func configurePool(pool *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// queryLogger forwards slow queries to the service logger. Missing rows are
// an expected outcome and stay quiet.
func queryLogger(ctx context.Context, logg *logger.Logger) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return gormlogger.New(slowQueryWriter{ctx: ctx, logg: logg}, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

type slowQueryWriter struct {
	ctx  context.Context
	logg *logger.Logger
}

func (w slowQueryWriter) Printf(format string, args ...any) {
	w.logg.Warn(w.logg.WithField(w.ctx, "query", fmt.Sprintf(format, args...)), "db.query_warning")
}

func (c *Client) SetObserver(obs TxObserver) {
	c.observer = obs
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx executes fn inside a transaction at the driver's default isolation.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.WithTxOptions(ctx, TxOptions{}, fn)
}

func (o TxOptions) begin() []*sql.TxOptions {
	if o.Isolation == sql.LevelDefault && !o.ReadOnly {
		return nil
	}
	return []*sql.TxOptions{{Isolation: o.Isolation, ReadOnly: o.ReadOnly}}
}

// WithTxOptions commits when fn returns nil and rolls back on error or panic.
// A commit failure becomes CodeTransaction unless the driver flagged a
// retryable conflict, which is returned raw for Retry to classify.
func (c *Client) WithTxOptions(ctx context.Context, opts TxOptions, fn func(tx *gorm.DB) error) error {
	tx := c.conn.WithContext(ctx).Begin(opts.begin()...)
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	err := tx.Commit().Error
	switch {
	case err == nil:
		return nil
	case IsRetryable(err):
		return err
	default:
		return pkgerrors.Wrap(pkgerrors.CodeTransaction, err, "commit transaction")
	}
}

// WithSerializableTx runs fn in a SERIALIZABLE transaction, re-running the whole
// block when the database reports a deadlock or serialization failure. Once the
// retry budget is spent the last conflict is escalated to CodeTransaction.
func (c *Client) WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	policy := c.retry
	policy.OnRetry = func(attempt int, err error) {
		if c.observer != nil {
			c.observer.ObserveTxRetry(attempt)
		}
		if c.logg != nil {
			logCtx := c.logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			c.logg.Warn(logCtx, "db.serializable_retry")
		}
	}

	err := Retry(ctx, policy, func(ctx context.Context) error {
		return c.WithTxOptions(ctx, Serializable, fn)
	})
	if err != nil && IsRetryable(err) {
		if c.observer != nil {
			c.observer.ObserveTxFailure()
		}
		return pkgerrors.Wrap(pkgerrors.CodeTransaction, err, "transaction retries exhausted")
	}
	if err != nil && pkgerrors.IsCode(err, pkgerrors.CodeTransaction) && c.observer != nil {
		c.observer.ObserveTxFailure()
	}
	return err
}
