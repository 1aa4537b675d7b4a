package domain

import (
	"context"
	"time"
)

// EventTablesUpdated is published on the event bus after a mutation session
// committed changes.
const EventTablesUpdated = "events:tables-updated"

// TableUpdateEvent carries the tables committed by one mutation session.
type TableUpdateEvent struct {
	Tables ChangeSet
}

// SyncStateRepo persists completed sync passes.
type SyncStateRepo interface {
	// StorePriority records that every bucket with priority p or higher
	// finished syncing at at.
	StorePriority(ctx context.Context, p BucketPriority, at time.Time) error
	// StoreFullSync records a complete sync and drops the per-priority rows.
	StoreFullSync(ctx context.Context, at time.Time) error
	// Load returns the full sync time, if any, and the per-priority entries
	// ordered highest priority first.
	Load(ctx context.Context) (*time.Time, []PriorityStatusEntry, error)
	WriteCheckpoint(ctx context.Context) (*string, error)
}
