package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// PriorityStatusEntry is the sync progress of one bucket priority.
type PriorityStatusEntry struct {
	Priority     BucketPriority
	LastSyncedAt *time.Time
	HasSynced    *bool
}

type priorityStatusEntryJSON struct {
	Priority     int32      `json:"priority"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	HasSynced    *bool      `json:"has_synced"`
}

func (e PriorityStatusEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(priorityStatusEntryJSON{
		Priority:     e.Priority.Code(),
		LastSyncedAt: e.LastSyncedAt,
		HasSynced:    e.HasSynced,
	})
}

// SyncStatus is an immutable snapshot of the sync state. Values are replaced
// whole, never modified after they have been published.
type SyncStatus struct {
	Connected   bool
	Connecting  bool
	Downloading bool
	Uploading   bool

	UploadError   error
	DownloadError error

	LastSyncedAt *time.Time
	HasSynced    *bool

	// PriorityStatusEntries is ordered highest priority first.
	PriorityStatusEntries []PriorityStatusEntry
}

// Clone returns a copy that shares no slice with s.
func (s SyncStatus) Clone() SyncStatus {
	out := s
	if s.PriorityStatusEntries != nil {
		out.PriorityStatusEntries = make([]PriorityStatusEntry, len(s.PriorityStatusEntries))
		copy(out.PriorityStatusEntries, s.PriorityStatusEntries)
	}
	return out
}

// AnyError returns the download error if set, otherwise the upload error.
func (s SyncStatus) AnyError() error {
	if s.DownloadError != nil {
		return s.DownloadError
	}
	return s.UploadError
}

// StatusForPriority returns the entry covering p: the entry for p itself or,
// failing that, the closest entry with lower urgency. When no such entry
// exists the full sync state is returned, with nil fields if nothing has been
// synced yet.
func (s SyncStatus) StatusForPriority(p BucketPriority) PriorityStatusEntry {
	for _, e := range s.PriorityStatusEntries {
		if e.Priority.Code() >= p.Code() {
			return e
		}
	}

	return PriorityStatusEntry{
		Priority:     FullSyncPriority,
		LastSyncedAt: s.LastSyncedAt,
		HasSynced:    s.HasSynced,
	}
}

func (s SyncStatus) String() string {
	var b strings.Builder

	switch {
	case s.Connected:
		b.WriteString("connected")
	case s.Connecting:
		b.WriteString("connecting")
	default:
		b.WriteString("disconnected")
	}

	if s.Uploading {
		b.WriteString(", uploading")
	}
	if s.Downloading {
		b.WriteString(", downloading")
	}

	if s.LastSyncedAt != nil {
		fmt.Fprintf(&b, ", last synced %s", humanize.Time(*s.LastSyncedAt))
	} else {
		b.WriteString(", never synced")
	}

	for _, e := range s.PriorityStatusEntries {
		if e.LastSyncedAt != nil {
			fmt.Fprintf(&b, ", priority %d synced %s", e.Priority.Code(), humanize.Time(*e.LastSyncedAt))
		}
	}

	if err := s.AnyError(); err != nil {
		fmt.Fprintf(&b, ", error: %v", err)
	}

	return b.String()
}

type syncStatusJSON struct {
	Connected     bool                  `json:"connected"`
	Connecting    bool                  `json:"connecting"`
	Downloading   bool                  `json:"downloading"`
	Uploading     bool                  `json:"uploading"`
	UploadError   *string               `json:"upload_error"`
	DownloadError *string               `json:"download_error"`
	LastSyncedAt  *time.Time            `json:"last_synced_at"`
	HasSynced     *bool                 `json:"has_synced"`
	Priorities    []PriorityStatusEntry `json:"priority_status_entries"`
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func (s SyncStatus) MarshalJSON() ([]byte, error) {
	entries := s.PriorityStatusEntries
	if entries == nil {
		entries = []PriorityStatusEntry{}
	}

	return json.Marshal(syncStatusJSON{
		Connected:     s.Connected,
		Connecting:    s.Connecting,
		Downloading:   s.Downloading,
		Uploading:     s.Uploading,
		UploadError:   errString(s.UploadError),
		DownloadError: errString(s.DownloadError),
		LastSyncedAt:  s.LastSyncedAt,
		HasSynced:     s.HasSynced,
		Priorities:    entries,
	})
}
