package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"
	"github.com/flurbudurbur/localsync/internal/status"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	uploadRetryJobID = "sync-upload-retry"
	statusLogJobID   = "sync-status-log"
)

type Service interface {
	Start()
	Stop()
	// AddJob adds a job that runs periodically at the given interval.
	AddJob(job cron.Job, interval time.Duration, identifier string) (int, error)
	// AddJobWithSpec adds a job using a cron spec string (e.g., "0 3 * * *").
	AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error)
	RemoveJobByIdentifier(id string) error
	GetNextRun(id string) (time.Time, error)
}

type service struct {
	log     zerolog.Logger
	config  *domain.Config
	uploads UploadTrigger
	status  status.Service
	crud    domain.CrudRepo

	cron *cron.Cron
	jobs map[string]cron.EntryID
	m    sync.RWMutex
}

func NewService(log logger.Logger, config *domain.Config, uploads UploadTrigger, statusSvc status.Service, crud domain.CrudRepo) Service {
	return &service{
		log:     log.With().Str("module", "scheduler").Logger(),
		config:  config,
		uploads: uploads,
		status:  statusSvc,
		crud:    crud,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
		)),
		jobs: map[string]cron.EntryID{},
	}
}

func (s *service) Start() {
	s.log.Info().Msg("Starting scheduler service")

	s.cron.Start()

	s.addAppJobs()
}

func (s *service) addAppJobs() {
	retry := &UploadRetryJob{
		Name:    uploadRetryJobID,
		Log:     s.log.With().Str("job", uploadRetryJobID).Logger(),
		Uploads: s.uploads,
		Status:  s.status,
		Crud:    s.crud,
	}

	interval := s.config.Sync.RetryInterval()
	if _, err := s.AddJob(retry, interval, uploadRetryJobID); err != nil {
		s.log.Error().Err(err).Msgf("Failed to add '%s' job", uploadRetryJobID)
	}

	spec := s.config.Sync.StatusLogSchedule
	if spec == "" {
		s.log.Debug().Msg("Status logging is disabled, skipping job")
		return
	}

	statusLog := &StatusLogJob{
		Name:   statusLogJobID,
		Log:    s.log.With().Str("job", statusLogJobID).Logger(),
		Status: s.status,
		Crud:   s.crud,
	}

	if _, err := s.AddJobWithSpec(statusLog, spec, statusLogJobID); err != nil {
		s.log.Error().Err(err).Msgf("Failed to add '%s' job", statusLogJobID)
	}
}

func (s *service) Stop() {
	s.log.Info().Msg("Stopping scheduler service")
	<-s.cron.Stop().Done()
}

func (s *service) AddJob(job cron.Job, interval time.Duration, identifier string) (int, error) {
	return s.addJob(job, fmt.Sprintf("@every %s", interval.String()), identifier)
}

// AddJobWithSpec adds a job using a cron specification string.
func (s *service) AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error) {
	return s.addJob(job, spec, identifier)
}

func (s *service) addJob(job cron.Job, spec string, identifier string) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if _, exists := s.jobs[identifier]; exists {
		s.log.Warn().Str("identifier", identifier).Msg("Job with this identifier already exists, skipping add.")
		return 0, fmt.Errorf("job with identifier '%s' already exists", identifier)
	}

	entryID, err := s.cron.AddJob(spec, cron.NewChain(
		cron.SkipIfStillRunning(cron.DefaultLogger)).Then(job))
	if err != nil {
		s.log.Error().Err(err).Str("identifier", identifier).Str("spec", spec).Msg("Failed to add job")
		return 0, fmt.Errorf("failed to add job '%s' with spec '%s': %w", identifier, spec, err)
	}

	s.log.Info().Str("identifier", identifier).Str("spec", spec).Int("entryID", int(entryID)).Msg("Scheduled job added")
	s.jobs[identifier] = entryID
	return int(entryID), nil
}

func (s *service) RemoveJobByIdentifier(id string) error {
	s.m.Lock()
	defer s.m.Unlock()

	v, ok := s.jobs[id]
	if !ok {
		return nil
	}

	s.log.Debug().Msgf("scheduler.Remove: removing job: %v", id)

	s.cron.Remove(v)
	delete(s.jobs, id)

	return nil
}

func (s *service) GetNextRun(id string) (time.Time, error) {
	entry := s.getEntryById(id)

	if !entry.Valid() {
		return time.Time{}, nil
	}

	s.log.Debug().Msgf("scheduler.GetNextRun: %s next run: %s", id, entry.Next)

	return entry.Next, nil
}

func (s *service) getEntryById(id string) cron.Entry {
	s.m.RLock()
	defer s.m.RUnlock()

	v, ok := s.jobs[id]
	if !ok {
		return cron.Entry{}
	}

	return s.cron.Entry(v)
}
