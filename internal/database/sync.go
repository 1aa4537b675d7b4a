package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func NewSyncStateRepo(log logger.Logger, db *DB) domain.SyncStateRepo {
	return &SyncStateRepo{
		log: log.With().Str("repo", "sync_state").Logger(),
		db:  db,
	}
}

// SyncStateRepo keeps one row per completed priority in ps_sync_state. A
// full sync is stored under the full sync priority code.
type SyncStateRepo struct {
	log zerolog.Logger
	db  *DB
}

func (r *SyncStateRepo) StorePriority(ctx context.Context, p domain.BucketPriority, at time.Time) error {
	_, err := r.db.Write(ctx, func(ctx context.Context, tx domain.Executor) error {
		query, args, err := sq.Delete(syncStateTable).Where(sq.LtOrEq{"priority": p.Code()}).ToSql()
		if err != nil {
			return errors.Wrap(err, "error building query")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, "could not clear covered priorities")
		}

		return r.insert(ctx, tx, p, at)
	})
	if err != nil {
		r.log.Error().Err(err).Int32("priority", p.Code()).Msg("could not store priority sync state")
		return err
	}
	return nil
}

func (r *SyncStateRepo) StoreFullSync(ctx context.Context, at time.Time) error {
	_, err := r.db.Write(ctx, func(ctx context.Context, tx domain.Executor) error {
		query, args, err := sq.Delete(syncStateTable).ToSql()
		if err != nil {
			return errors.Wrap(err, "error building query")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, "could not clear sync state")
		}

		return r.insert(ctx, tx, domain.FullSyncPriority, at)
	})
	if err != nil {
		r.log.Error().Err(err).Msg("could not store full sync state")
		return err
	}
	return nil
}

func (r *SyncStateRepo) insert(ctx context.Context, tx domain.Executor, p domain.BucketPriority, at time.Time) error {
	query, args, err := sq.Insert(syncStateTable).
		Columns("priority", "last_synced_at").
		Values(p.Code(), at.UTC().Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "could not store sync state")
	}
	return nil
}

func (r *SyncStateRepo) Load(ctx context.Context) (*time.Time, []domain.PriorityStatusEntry, error) {
	query, args, err := sq.Select("priority", "last_synced_at").From(syncStateTable).OrderBy("priority ASC").ToSql()
	if err != nil {
		return nil, nil, errors.Wrap(err, "error building query")
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error().Err(err).Msg("could not load sync state")
		return nil, nil, errors.Wrap(err, "error executing query")
	}
	defer rows.Close()

	var (
		full    *time.Time
		entries []domain.PriorityStatusEntry
	)
	for rows.Next() {
		var (
			code int64
			raw  string
		)
		if err := rows.Scan(&code, &raw); err != nil {
			return nil, nil, errors.Wrap(err, "error scanning row")
		}

		p, err := domain.ParseBucketPriority(code)
		if err != nil {
			r.log.Warn().Err(err).Int64("priority", code).Msg("ignoring invalid sync state row")
			continue
		}

		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			r.log.Warn().Err(err).Str("last_synced_at", raw).Msg("ignoring invalid sync state row")
			continue
		}

		if p.IsFullSync() {
			full = &at
			continue
		}

		synced := true
		entries = append(entries, domain.PriorityStatusEntry{Priority: p, LastSyncedAt: &at, HasSynced: &synced})
	}

	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "error reading rows")
	}

	return full, entries, nil
}

func (r *SyncStateRepo) WriteCheckpoint(ctx context.Context) (*string, error) {
	query, args, err := sq.Select("value").From(kvTable).Where(sq.Eq{"key": writeCheckpointKey}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	var value string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not read write checkpoint")
	}
	return &value, nil
}
