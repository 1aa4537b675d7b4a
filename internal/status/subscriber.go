package status

import (
	"context"
	"sync"

	"github.com/flurbudurbur/localsync/internal/domain"
)

// subscriber buffers snapshots for one observer. The queue is unbounded so a
// slow reader never blocks status updates and never misses a snapshot.
type subscriber struct {
	mu     sync.Mutex
	queue  []domain.SyncStatus
	signal chan struct{}
	out    chan domain.SyncStatus
}

func newSubscriber() *subscriber {
	return &subscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan domain.SyncStatus),
	}
}

func (s *subscriber) push(st domain.SyncStatus) {
	s.mu.Lock()
	s.queue = append(s.queue, st)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (domain.SyncStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return domain.SyncStatus{}, false
	}

	st := s.queue[0]
	s.queue[0] = domain.SyncStatus{}
	s.queue = s.queue[1:]

	return st, true
}

// run delivers queued snapshots in order until ctx ends, then closes out.
func (s *subscriber) run(ctx context.Context) {
	defer close(s.out)

	for {
		st, ok := s.pop()
		if !ok {
			select {
			case <-s.signal:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case s.out <- st:
		case <-ctx.Done():
			return
		}
	}
}
