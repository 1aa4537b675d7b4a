package events

import (
	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"
)

// queueTable is the persisted upload queue written by the capture triggers.
const queueTable = "ps_crud"

// UploadTrigger starts an upload pass without blocking.
type UploadTrigger interface {
	Trigger()
}

type Subscriber struct {
	log      zerolog.Logger
	eventbus EventBus.Bus

	uploads UploadTrigger
}

func NewSubscribers(log logger.Logger, eventbus EventBus.Bus, uploads UploadTrigger) Subscriber {
	s := Subscriber{
		log:      log.With().Str("module", "events").Logger(),
		eventbus: eventbus,
		uploads:  uploads,
	}

	s.Register()

	return s
}

func (s Subscriber) Register() {
	if err := s.eventbus.Subscribe(domain.EventTablesUpdated, s.queueChanged); err != nil {
		s.log.Error().Err(err).Msgf("failed to subscribe to %s", domain.EventTablesUpdated)
	}
}

func (s Subscriber) queueChanged(e *domain.TableUpdateEvent) {
	if e == nil || !e.Tables.Contains(queueTable) {
		return
	}

	s.log.Trace().Strs("tables", e.Tables.Tables()).Msg("upload queue changed")
	s.uploads.Trigger()
}
