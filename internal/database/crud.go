package database

import (
	"context"
	"database/sql"

	"github.com/flurbudurbur/localsync/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// writeCheckpointKey is the ps_kv key of the last write checkpoint handed in
// by a connector.
const writeCheckpointKey = "write_checkpoint"

// CrudRepo reads the upload queue filled by the capture triggers.
type CrudRepo struct {
	log zerolog.Logger
	db  *DB
}

func (r *CrudRepo) selectEntries() sq.SelectBuilder {
	return sq.Select("id", "tx_id", "data").From(crudTable).OrderBy("id ASC")
}

func (r *CrudRepo) query(ctx context.Context, q sq.SelectBuilder) ([]domain.CrudEntry, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error().Err(err).Msg("could not read upload queue")
		return nil, errors.Wrap(err, "error executing query")
	}
	defer rows.Close()

	var entries []domain.CrudEntry
	for rows.Next() {
		var (
			id   int64
			txID sql.NullInt64
			data string
		)
		if err := rows.Scan(&id, &txID, &data); err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}

		var tx *int64
		if txID.Valid {
			v := txID.Int64
			tx = &v
		}

		entry, err := domain.ParseCrudRow(id, tx, data)
		if err != nil {
			r.log.Error().Err(err).Int64("client_id", id).Msg("invalid upload queue entry")
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading rows")
	}

	return entries, nil
}

// NextTransaction returns the entries of the oldest queued transaction in
// commit order. An entry without a transaction id forms a group of its own.
func (r *CrudRepo) NextTransaction(ctx context.Context) (*domain.CrudTransaction, error) {
	first, err := r.query(ctx, r.selectEntries().Limit(1))
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, nil
	}

	head := first[0]
	entries := first
	if head.TransactionID != nil {
		entries, err = r.query(ctx, r.selectEntries().Where(sq.Eq{"tx_id": *head.TransactionID}))
		if err != nil {
			return nil, err
		}
	}

	last := entries[len(entries)-1].ClientID
	return domain.NewCrudTransaction(head.TransactionID, entries, r.completer(last)), nil
}

// Batch returns up to limit of the oldest entries, ignoring transaction
// boundaries.
func (r *CrudRepo) Batch(ctx context.Context, limit int) (*domain.CrudBatch, error) {
	if limit <= 0 {
		return nil, errors.Errorf("invalid batch limit %d", limit)
	}

	entries, err := r.query(ctx, r.selectEntries().Limit(uint64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	last := entries[len(entries)-1].ClientID
	return domain.NewCrudBatch(entries, hasMore, r.completer(last)), nil
}

func (r *CrudRepo) Pending(ctx context.Context) ([]domain.CrudEntry, error) {
	return r.query(ctx, r.selectEntries())
}

func (r *CrudRepo) Count(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From(crudTable).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "error building query")
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "error counting upload queue")
	}
	return n, nil
}

// completer removes every entry up to and including lastID. The write
// checkpoint is only stored once nothing is left in the queue.
func (r *CrudRepo) completer(lastID int64) domain.CompleteFunc {
	return func(ctx context.Context, writeCheckpoint *string) error {
		_, err := r.db.Write(ctx, func(ctx context.Context, tx domain.Executor) error {
			query, args, err := sq.Delete(crudTable).Where(sq.LtOrEq{"id": lastID}).ToSql()
			if err != nil {
				return errors.Wrap(err, "error building query")
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return errors.Wrap(err, "could not remove completed entries")
			}

			if writeCheckpoint == nil {
				return nil
			}

			var remaining int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+crudTable).Scan(&remaining); err != nil {
				return errors.Wrap(err, "could not count remaining entries")
			}
			if remaining > 0 {
				return nil
			}

			query, args, err = sq.Insert(kvTable).
				Columns("key", "value").
				Values(writeCheckpointKey, *writeCheckpoint).
				Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
				ToSql()
			if err != nil {
				return errors.Wrap(err, "error building query")
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return errors.Wrap(err, "could not store write checkpoint")
			}
			return nil
		})
		if err != nil {
			r.log.Error().Err(err).Int64("last_client_id", lastID).Msg("could not complete upload queue entries")
			return err
		}

		r.log.Debug().Int64("last_client_id", lastID).Msg("upload queue entries completed")
		return nil
	}
}
