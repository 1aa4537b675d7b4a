package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/asaskevich/EventBus"
	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// minSQLiteVersion is the oldest engine with RETURNING, json_object and upserts.
var minSQLiteVersion = version.Must(version.NewVersion("3.35.0"))

type DB struct {
	log     zerolog.Logger
	handler *sql.DB
	bus     EventBus.BusPublisher
	ctx     context.Context
	cancel  func()
	crud    *CrudRepo

	Driver string
	DSN    string
	Path   string
}

func NewDB(cfg *domain.Config, log logger.Logger, bus EventBus.BusPublisher) (*DB, error) {
	if cfg.Database.Path == "" {
		return nil, errors.New("database path is required but not configured")
	}

	db := &DB{
		log:    log.With().Str("module", "database").Logger(),
		bus:    bus,
		Driver: "sqlite",
		DSN:    dataSourceName(cfg.Database.Path, cfg.Database.BusyTimeoutMs),
		Path:   cfg.Database.Path,
	}
	db.ctx, db.cancel = context.WithCancel(context.Background())
	db.crud = &CrudRepo{log: log.With().Str("repo", "crud").Logger(), db: db}

	return db, nil
}

// dataSourceName builds the modernc DSN. Write transactions take the lock at
// BEGIN so that concurrent sessions queue on busy_timeout instead of failing
// at their first write.
func dataSourceName(path string, busyTimeoutMs int) string {
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMs))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	return path + "?" + q.Encode()
}

func (db *DB) Open() error {
	if db.DSN == "" {
		return errors.New("database DSN is required but not configured")
	}

	if dir := filepath.Dir(db.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "could not create database directory %s", dir)
		}
	}

	handler, err := sql.Open(db.Driver, db.DSN)
	if err != nil {
		db.log.Error().Err(err).Str("driver", db.Driver).Msg("Failed to open database")
		return errors.Wrap(err, "failed to open database")
	}
	db.handler = handler

	if err := db.checkVersion(db.ctx); err != nil {
		_ = handler.Close()
		return err
	}

	db.log.Info().Str("path", db.Path).Msg("Database connection established successfully.")

	if err := db.migrate(db.ctx); err != nil {
		db.log.Error().Err(err).Msg("Failed to run database migrations")
		_ = handler.Close()
		return errors.Wrap(err, "failed to run database migrations")
	}

	return nil
}

func (db *DB) checkVersion(ctx context.Context) error {
	var raw string
	if err := db.handler.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&raw); err != nil {
		return errors.Wrap(err, "could not read sqlite version")
	}

	v, err := version.NewVersion(raw)
	if err != nil {
		return errors.Wrapf(err, "could not parse sqlite version %q", raw)
	}

	if v.LessThan(minSQLiteVersion) {
		return errors.Errorf("sqlite %s is too old, need at least %s", v, minSQLiteVersion)
	}

	db.log.Debug().Str("sqlite_version", v.String()).Msg("SQLite engine version")
	return nil
}

func (db *DB) Close() error {
	db.cancel()

	if db.handler == nil {
		return nil
	}

	if err := db.handler.Close(); err != nil {
		db.log.Error().Err(err).Msg("Failed to close database")
		return errors.Wrap(err, "failed to close database")
	}

	db.log.Info().Msg("Database closed.")
	return nil
}

func (db *DB) Ping() error {
	if db.handler == nil {
		return errors.New("database handler is not initialized")
	}

	if err := db.handler.PingContext(db.ctx); err != nil {
		db.log.Warn().Err(err).Msg("Database ping failed")
		return errors.Wrap(err, "database ping failed")
	}

	return nil
}

// Get returns the underlying pool. Statements run on it bypass change tracking.
func (db *DB) Get() *sql.DB {
	return db.handler
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.handler.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.handler.QueryRowContext(ctx, query, args...)
}

// Write runs fn in a mutation session and returns the committed tables.
func (db *DB) Write(ctx context.Context, fn func(ctx context.Context, tx domain.Executor) error) (domain.ChangeSet, error) {
	res, err := RunSession(ctx, db, func(ctx context.Context, tx domain.Executor) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return res.Changes, res.Err
}

func (db *DB) Crud() domain.CrudRepo {
	return db.crud
}

// publish announces committed tables on the event bus.
func (db *DB) publish(changes domain.ChangeSet) {
	if db.bus == nil || changes.IsEmpty() {
		return
	}

	db.log.Trace().Strs("tables", changes.Tables()).Msg("tables updated")
	db.bus.Publish(domain.EventTablesUpdated, &domain.TableUpdateEvent{Tables: changes.Clone()})
}
