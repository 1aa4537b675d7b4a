package server

import (
	"context"
	"sync"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"
	"github.com/flurbudurbur/localsync/internal/scheduler"

	"github.com/rs/zerolog"
)

type statusLoader interface {
	Load(ctx context.Context) error
}

type syncConnector interface {
	Connect(ctx context.Context) error
	Disconnect()
}

type Server struct {
	log    zerolog.Logger
	config *domain.Config

	scheduler   scheduler.Service
	status      statusLoader
	syncService syncConnector

	stopWG sync.WaitGroup
	lock   sync.Mutex
	cancel context.CancelFunc
}

func NewServer(log logger.Logger, config *domain.Config, scheduler scheduler.Service, status statusLoader, syncSvc syncConnector) *Server {
	return &Server{
		log:         log.With().Str("module", "server").Logger(),
		config:      config,
		scheduler:   scheduler,
		status:      status,
		syncService: syncSvc,
	}
}

// Start restores the persisted sync state, starts the scheduler and connects
// the sync engine when an endpoint is configured.
func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.status.Load(context.Background()); err != nil {
		return err
	}

	// start cron scheduler
	s.scheduler.Start()

	if s.config.Sync.Endpoint == "" {
		s.log.Warn().Msg("No sync endpoint configured, uploads are disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.stopWG.Add(1)
	go func() {
		defer s.stopWG.Done()

		if err := s.syncService.Connect(ctx); err != nil {
			s.log.Error().Err(err).Msg("sync engine stopped")
		}
	}()

	return nil
}

func (s *Server) Shutdown() {
	s.log.Info().Msg("Shutting down server")

	s.lock.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.lock.Unlock()

	s.syncService.Disconnect()
	s.stopWG.Wait()

	// stop cron scheduler
	s.scheduler.Stop()
}
