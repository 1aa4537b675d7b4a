package status

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Service interface {
	// Current returns the latest snapshot.
	Current() domain.SyncStatus
	// Subscribe streams snapshots until ctx ends. The first value is the
	// snapshot current at subscription time; later ones arrive in the order
	// they were produced.
	Subscribe(ctx context.Context) <-chan domain.SyncStatus
	// Load restores completed sync passes from storage.
	Load(ctx context.Context) error

	Connecting()
	Connected()
	Disconnected()
	UploadStarted()
	UploadFinished(err error)
	DownloadStarted()
	DownloadFinished(err error)
	PriorityCompleted(ctx context.Context, p domain.BucketPriority, at time.Time) error
	FullSyncCompleted(ctx context.Context, at time.Time) error
}

type service struct {
	log  zerolog.Logger
	repo domain.SyncStateRepo

	// mu serializes snapshot production and fan-out
	mu          sync.Mutex
	current     atomic.Pointer[domain.SyncStatus]
	subscribers map[*subscriber]struct{}
}

func NewService(log logger.Logger, repo domain.SyncStateRepo) Service {
	s := &service{
		log:         log.With().Str("module", "status").Logger(),
		repo:        repo,
		subscribers: make(map[*subscriber]struct{}),
	}
	s.current.Store(&domain.SyncStatus{})

	return s
}

func (s *service) Current() domain.SyncStatus {
	return s.current.Load().Clone()
}

func (s *service) Subscribe(ctx context.Context) <-chan domain.SyncStatus {
	sub := newSubscriber()

	s.mu.Lock()
	sub.push(s.current.Load().Clone())
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		sub.run(ctx)

		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
	}()

	return sub.out
}

func (s *service) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	full, entries, err := s.repo.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "could not load sync state")
	}

	s.update(func(st *domain.SyncStatus) {
		if full != nil {
			st.LastSyncedAt = full
			st.HasSynced = boolPtr(true)
		}
		st.PriorityStatusEntries = entries
	})

	s.log.Debug().Int("priorities", len(entries)).Bool("full_sync", full != nil).Msg("sync state restored")

	return nil
}

func (s *service) Connecting() {
	s.update(func(st *domain.SyncStatus) {
		st.Connecting = true
		st.Connected = false
	})
}

func (s *service) Connected() {
	s.update(func(st *domain.SyncStatus) {
		st.Connecting = false
		st.Connected = true
	})
}

func (s *service) Disconnected() {
	s.update(func(st *domain.SyncStatus) {
		st.Connecting = false
		st.Connected = false
		st.Uploading = false
		st.Downloading = false
	})
}

func (s *service) UploadStarted() {
	s.update(func(st *domain.SyncStatus) {
		st.Uploading = true
		st.UploadError = nil
	})
}

func (s *service) UploadFinished(err error) {
	s.update(func(st *domain.SyncStatus) {
		st.Uploading = false
		st.UploadError = err
	})
}

func (s *service) DownloadStarted() {
	s.update(func(st *domain.SyncStatus) {
		st.Downloading = true
		st.DownloadError = nil
	})
}

func (s *service) DownloadFinished(err error) {
	s.update(func(st *domain.SyncStatus) {
		st.Downloading = false
		st.DownloadError = err
	})
}

// PriorityCompleted records that every bucket with priority p or higher has
// synced. Entries covered by p are replaced by a single entry for p.
func (s *service) PriorityCompleted(ctx context.Context, p domain.BucketPriority, at time.Time) error {
	if p.IsFullSync() {
		return s.FullSyncCompleted(ctx, at)
	}

	if s.repo != nil {
		if err := s.repo.StorePriority(ctx, p, at); err != nil {
			return errors.Wrapf(err, "could not store completion of priority %d", p.Code())
		}
	}

	s.update(func(st *domain.SyncStatus) {
		entries := make([]domain.PriorityStatusEntry, 0, len(st.PriorityStatusEntries)+1)
		for _, e := range st.PriorityStatusEntries {
			if e.Priority.Code() > p.Code() {
				entries = append(entries, e)
			}
		}
		entries = append(entries, domain.PriorityStatusEntry{
			Priority:     p,
			LastSyncedAt: timePtr(at),
			HasSynced:    boolPtr(true),
		})
		slices.SortFunc(entries, func(a, b domain.PriorityStatusEntry) int {
			return domain.HighestFirst(a.Priority, b.Priority)
		})
		st.PriorityStatusEntries = entries
	})

	return nil
}

// FullSyncCompleted records a complete sync of every bucket.
func (s *service) FullSyncCompleted(ctx context.Context, at time.Time) error {
	if s.repo != nil {
		if err := s.repo.StoreFullSync(ctx, at); err != nil {
			return errors.Wrap(err, "could not store full sync")
		}
	}

	s.update(func(st *domain.SyncStatus) {
		st.Downloading = false
		st.DownloadError = nil
		st.LastSyncedAt = timePtr(at)
		st.HasSynced = boolPtr(true)
		st.PriorityStatusEntries = nil
	})

	return nil
}

// update builds the next snapshot from a copy of the current one and hands
// it to every subscriber.
func (s *service) update(fn func(st *domain.SyncStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	fn(&next)
	s.current.Store(&next)

	for sub := range s.subscribers {
		sub.push(next.Clone())
	}

	s.log.Trace().Stringer("status", next).Msg("status updated")
}

func boolPtr(b bool) *bool {
	return &b
}

func timePtr(t time.Time) *time.Time {
	return &t
}
