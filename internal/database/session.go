package database

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/flurbudurbur/localsync/internal/domain"

	"github.com/pkg/errors"
)

// SessionResult pairs the outcome of the work run in a session with the
// tables its transaction committed. Changes is empty when the transaction
// rolled back.
type SessionResult[T any] struct {
	Value   T
	Err     error
	Changes domain.ChangeSet
}

// observer is the accumulator attached to one pinned connection.
type observer struct {
	conn *sql.Conn
	acc  *accumulator
}

func attach(ctx context.Context, db *DB) (*observer, error) {
	if db.handler == nil {
		return nil, errors.Wrap(domain.ErrSessionAttachmentFailed, "database is not open")
	}

	conn, err := db.handler.Conn(ctx)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrSessionAttachmentFailed, "could not pin connection: %v", err)
	}

	o := &observer{conn: conn, acc: newAccumulator()}
	if err := conn.Raw(func(driverConn any) error {
		return attachHooks(driverConn, o.acc)
	}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(domain.ErrSessionAttachmentFailed, "could not attach hooks: %v", err)
	}

	return o, nil
}

// release detaches the hooks and returns the connection to the pool. A
// connection whose hooks could not be removed is discarded.
func (o *observer) release(db *DB) {
	if err := o.conn.Raw(detachHooks); err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return
		}
		db.log.Error().Err(err).Msg("could not detach session hooks, discarding connection")
		_ = o.conn.Raw(func(any) error { return driver.ErrBadConn })
	}

	if err := o.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		db.log.Warn().Err(err).Msg("could not return session connection")
	}
}

// RunSession runs work in one write transaction on a dedicated connection and
// reports which tables the transaction committed. The transaction commits when
// work returns nil and rolls back otherwise.
//
// The returned error is only set when the session could not be set up, in
// which case work did not run. Errors from work, begin or commit are reported
// in SessionResult.Err. Listeners are notified of the committed tables after
// the transaction has finished.
func RunSession[T any](ctx context.Context, db *DB, work func(ctx context.Context, tx domain.Executor) (T, error)) (SessionResult[T], error) {
	o, err := attach(ctx, db)
	if err != nil {
		db.log.Error().Err(err).Msg("mutation session setup failed")
		return SessionResult[T]{}, err
	}

	var res SessionResult[T]
	committed := false

	func() {
		defer o.release(db)
		res.Value, committed, res.Err = runTx(ctx, o.conn, work)
	}()

	changes := o.acc.take()
	if !committed {
		changes = domain.NewChangeSet()
	}
	res.Changes = changes

	db.publish(changes)

	return res, nil
}

func runTx[T any](ctx context.Context, conn *sql.Conn, work func(ctx context.Context, tx domain.Executor) (T, error)) (value T, committed bool, err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return value, false, errors.Wrap(err, "could not begin transaction")
	}

	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err == nil {
				err = errors.Wrap(rbErr, "could not roll back transaction")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, nextTxSQL); err != nil {
		return value, false, errors.Wrap(err, "could not allocate transaction id")
	}

	value, err = work(ctx, tx)
	if err != nil {
		return value, false, err
	}

	if err = ctx.Err(); err != nil {
		return value, false, err
	}

	if _, err = tx.ExecContext(ctx, clearTxSQL); err != nil {
		return value, false, errors.Wrap(err, "could not release transaction id")
	}

	if err = tx.Commit(); err != nil {
		return value, false, errors.Wrap(err, "could not commit transaction")
	}

	return value, true, nil
}
