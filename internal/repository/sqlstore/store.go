package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mamadbah2/farmledger/internal/config"
	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/repository/sqlstore/migrations"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// maxTxRetries is how many times a transaction is re-run after a
	// serialization conflict.
	maxTxRetries = 1
)

// Store is the relational backing store for every farm entity. All methods
// run inside the caller's transaction when the context carries one (see WithinTx).
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the database selected by cfg.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		// SQLite has no row locks; a single connection serializes writers.
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	return New(db, logger), nil
}

// New wraps an existing gorm connection.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Driver returns the dialect name of the underlying connection.
func (s *Store) Driver() string {
	return s.db.Dialector.Name()
}

// Migrate brings the schema up to date. PostgreSQL uses the versioned SQL
// migrations; SQLite (development and tests) uses gorm's AutoMigrate.
func (s *Store) Migrate(ctx context.Context) error {
	if s.Driver() == DriverPostgres {
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("failed to access connection pool: %w", err)
		}
		return migrations.MigrateUp(sqlDB)
	}

	return s.db.WithContext(ctx).AutoMigrate(
		&models.User{},
		&models.FeedType{},
		&models.FeedLedgerEntry{},
		&models.Crop{},
		&models.ChickSource{},
		&models.DailyLog{},
		&models.Vaccination{},
	)
}

// MigrationStatus returns the applied and embedded schema versions. Only
// PostgreSQL schemas are versioned.
func (s *Store) MigrationStatus() (current, latest uint, err error) {
	if s.Driver() != DriverPostgres {
		return 0, 0, fmt.Errorf("migration status is not tracked for %s", s.Driver())
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to access connection pool: %w", err)
	}
	return migrations.Status(sqlDB)
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type txKey struct{}

type txState struct {
	tx          *gorm.DB
	afterCommit []func()
}

// WithinTx runs fn as one unit of work. Store calls made with the context
// passed to fn use the same transaction; nested calls join the outer one.
// A serialization conflict re-runs fn once before giving up.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		state := &txState{}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			state.tx = tx
			return fn(context.WithValue(ctx, txKey{}, state))
		})
		if err == nil {
			for _, hook := range state.afterCommit {
				hook()
			}
			return nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}
		s.logger.Warn("transaction conflict, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return err
}

// ReadSnapshot runs read-only fn so that all its queries observe one
// consistent snapshot (REPEATABLE READ on PostgreSQL).
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	var opts []*sql.TxOptions
	if s.Driver() == DriverPostgres {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, &txState{tx: tx}))
	}, opts...)
}

// AfterCommit schedules fn to run once the outermost transaction in ctx has
// committed. Without a transaction fn runs immediately. Rolled back
// transactions drop their hooks.
func (s *Store) AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.afterCommit = append(state.afterCommit, fn)
		return
	}
	fn()
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return state.tx
	}
	return s.db.WithContext(ctx)
}

// forUpdate adds a row lock where the dialect supports one.
func (s *Store) forUpdate(db *gorm.DB) *gorm.DB {
	if s.Driver() == DriverPostgres {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}
