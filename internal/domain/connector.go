package domain

import (
	"context"
	"database/sql"
	"time"
)

// Credentials are what a connector needs to reach the backend.
type Credentials struct {
	Endpoint  string     `json:"endpoint"`
	Token     string     `json:"-"`
	UserID    string     `json:"user_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Executor runs statements. It is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Querier runs read-only statements outside of a mutation session.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database is the handle given to connectors. Writes made through Write are
// change-tracked like any other mutation session.
type Database interface {
	Querier
	Write(ctx context.Context, fn func(ctx context.Context, tx Executor) error) (ChangeSet, error)
	Crud() CrudRepo
}

// Connector is supplied by the application and talks to its backend.
type Connector interface {
	FetchCredentials(ctx context.Context) (*Credentials, error)
	UploadData(ctx context.Context, db Database) error
}
