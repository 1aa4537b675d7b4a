package database

import (
	"strings"
	"sync"

	"github.com/flurbudurbur/localsync/internal/domain"

	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// txTable hands out upload queue transaction ids. Sessions write to it on
// every transaction, so it is never reported as changed.
const txTable = "ps_tx"

// accumulator collects the tables written by the transactions of one
// connection. Names are pending until the transaction commits.
type accumulator struct {
	mu        sync.Mutex
	pending   domain.ChangeSet
	committed domain.ChangeSet
}

func newAccumulator() *accumulator {
	return &accumulator{
		pending:   domain.NewChangeSet(),
		committed: domain.NewChangeSet(),
	}
}

func (a *accumulator) onPreUpdate(d sqlite.SQLitePreUpdateData) {
	switch d.Op {
	case sqlite3.SQLITE_INSERT, sqlite3.SQLITE_UPDATE, sqlite3.SQLITE_DELETE:
		a.record(d.TableName)
	}
}

func (a *accumulator) record(table string) {
	if table == txTable || strings.HasPrefix(table, "sqlite_") {
		return
	}

	a.mu.Lock()
	a.pending.Add(table)
	a.mu.Unlock()
}

// onCommit never vetoes the commit.
func (a *accumulator) onCommit() int32 {
	a.mu.Lock()
	for t := range a.pending {
		a.committed.Add(t)
	}
	a.pending = domain.NewChangeSet()
	a.mu.Unlock()

	return 0
}

func (a *accumulator) onRollback() {
	a.mu.Lock()
	a.pending = domain.NewChangeSet()
	a.mu.Unlock()
}

// take returns the committed tables and resets the accumulator.
func (a *accumulator) take() domain.ChangeSet {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.committed
	a.committed = domain.NewChangeSet()
	a.pending = domain.NewChangeSet()
	return out
}

func attachHooks(driverConn any, a *accumulator) error {
	h, ok := driverConn.(sqlite.HookRegisterer)
	if !ok {
		return errors.Errorf("driver connection %T does not support hooks", driverConn)
	}

	h.RegisterPreUpdateHook(a.onPreUpdate)
	h.RegisterCommitHook(a.onCommit)
	h.RegisterRollbackHook(a.onRollback)
	return nil
}

func detachHooks(driverConn any) error {
	h, ok := driverConn.(sqlite.HookRegisterer)
	if !ok {
		return errors.Errorf("driver connection %T does not support hooks", driverConn)
	}

	h.RegisterPreUpdateHook(nil)
	h.RegisterCommitHook(nil)
	h.RegisterRollbackHook(nil)
	return nil
}
