package http

import (
	"context"
	"encoding/json"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/events"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
)

const (
	// StatusStream carries every published sync status snapshot.
	StatusStream = "status"
	// TablesStream carries the set of tables changed by each commit.
	TablesStream = "tables"
)

type tableWatcher interface {
	Watch(tables []string, fn events.ListenerFunc) func()
}

// StreamRelay copies status snapshots and table changes onto the SSE server.
type StreamRelay struct {
	log     zerolog.Logger
	sse     logger.SSEPublisher
	status  statusService
	tables  tableWatcher
	watched []string
}

func NewStreamRelay(log logger.Logger, sse logger.SSEPublisher, status statusService, tables tableWatcher, watched []string) *StreamRelay {
	return &StreamRelay{
		log:     log.With().Str("module", "streams").Logger(),
		sse:     sse,
		status:  status,
		tables:  tables,
		watched: watched,
	}
}

// Run relays until ctx is done.
func (s *StreamRelay) Run(ctx context.Context) {
	if s.tables != nil {
		unsubscribe := s.tables.Watch(s.watched, func(changes domain.ChangeSet) {
			s.publish(TablesStream, changes)
		})
		defer unsubscribe()
	}

	for st := range s.status.Subscribe(ctx) {
		s.publish(StatusStream, st)
	}
}

func (s *StreamRelay) publish(stream string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("stream", stream).Msg("could not encode event")
		return
	}

	s.sse.Publish(stream, &sse.Event{Data: data})
}
