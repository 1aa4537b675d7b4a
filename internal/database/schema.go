package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/flurbudurbur/localsync/internal/domain"

	"github.com/pkg/errors"
)

const (
	crudTable      = "ps_crud"
	kvTable        = "ps_kv"
	syncStateTable = "ps_sync_state"
)

// nextTxSQL moves the session onto a fresh upload queue transaction id.
const nextTxSQL = `UPDATE ps_tx SET current_tx = next_tx, next_tx = next_tx + 1 WHERE id = 1`

// clearTxSQL ends the session's upload group so writes made outside a
// session are queued without a transaction id.
const clearTxSQL = `UPDATE ps_tx SET current_tx = NULL WHERE id = 1`

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ps_crud (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_id INTEGER,
		data  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ps_tx (
		id         INTEGER PRIMARY KEY NOT NULL,
		current_tx INTEGER,
		next_tx    INTEGER
	)`,
	`INSERT OR IGNORE INTO ps_tx (id, current_tx, next_tx) VALUES (1, NULL, 1)`,
	`CREATE TABLE IF NOT EXISTS ps_kv (
		key   TEXT PRIMARY KEY NOT NULL,
		value BLOB
	)`,
	`CREATE TABLE IF NOT EXISTS ps_sync_state (
		priority       INTEGER PRIMARY KEY NOT NULL,
		last_synced_at TEXT NOT NULL
	)`,
}

func (db *DB) migrate(ctx context.Context) error {
	tx, err := db.handler.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin migration")
	}
	defer tx.Rollback()

	for _, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration failed: %s", firstLine(stmt))
		}
	}

	return tx.Commit()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ApplySchema creates the application tables and, for tables that are not
// local-only, the triggers that record every write in the upload queue.
// Existing tables are left as they are; triggers are recreated.
func (db *DB) ApplySchema(ctx context.Context, schema domain.Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	tx, err := db.handler.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin schema update")
	}
	defer tx.Rollback()

	for _, t := range schema.Tables {
		for _, stmt := range tableStatements(t) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				db.log.Error().Err(err).Str("table", t.Name).Msg("could not apply schema")
				return errors.Wrapf(err, "could not apply schema for table %s", t.Name)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit schema update")
	}

	db.log.Debug().Int("tables", len(schema.Tables)).Msg("schema applied")
	return nil
}

func tableStatements(t domain.Table) []string {
	cols := make([]string, 0, len(t.Columns)+1)
	cols = append(cols, "id TEXT PRIMARY KEY NOT NULL")
	for _, c := range t.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type))
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(t.Name), strings.Join(cols, ", ")),
	}

	for _, suffix := range []string{"insert", "update", "delete"} {
		stmts = append(stmts, fmt.Sprintf("DROP TRIGGER IF EXISTS %s", quoteIdent(triggerName(t.Name, suffix))))
	}

	if t.LocalOnly {
		return stmts
	}

	return append(stmts, crudTriggers(t)...)
}

func triggerName(table, suffix string) string {
	return fmt.Sprintf("ps_crud_%s_%s", table, suffix)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// rowData renders json_object(...) over the declared columns of alias.
func rowData(t domain.Table, alias string) string {
	if len(t.Columns) == 0 {
		return "json_object()"
	}

	args := make([]string, 0, 2*len(t.Columns))
	for _, c := range t.Columns {
		args = append(args, quoteLiteral(c.Name), fmt.Sprintf("%s.%s", alias, quoteIdent(c.Name)))
	}
	return "json_object(" + strings.Join(args, ", ") + ")"
}

// crudTriggers returns AFTER INSERT/UPDATE/DELETE triggers that append a
// PUT, PATCH or DELETE entry for the written row to the upload queue, tagged
// with the transaction id of the running session.
func crudTriggers(t domain.Table) []string {
	entry := func(op, alias string, withData bool) string {
		fields := []string{
			"'op'", quoteLiteral(op),
			"'type'", quoteLiteral(t.Name),
			"'id'", alias + ".id",
		}
		if withData {
			fields = append(fields, "'data'", rowData(t, alias))
		}
		return fmt.Sprintf(`INSERT INTO ps_crud (tx_id, data)
    SELECT current_tx, json_object(%s) FROM ps_tx WHERE id = 1;`, strings.Join(fields, ", "))
	}

	insert := fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s
BEGIN
    %s
END`, quoteIdent(triggerName(t.Name, "insert")), quoteIdent(t.Name), entry("PUT", "NEW", true))

	update := fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE ON %s
BEGIN
    SELECT CASE WHEN OLD.id != NEW.id THEN RAISE(FAIL, 'cannot update id') END;
    %s
END`, quoteIdent(triggerName(t.Name, "update")), quoteIdent(t.Name), entry("PATCH", "NEW", true))

	del := fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s
BEGIN
    %s
END`, quoteIdent(triggerName(t.Name, "delete")), quoteIdent(t.Name), entry("DELETE", "OLD", false))

	return []string{insert, update, del}
}
