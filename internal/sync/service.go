package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"
	"github.com/flurbudurbur/localsync/internal/status"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNotConnected is returned when an upload is requested while no
// connection is active.
var ErrNotConnected = errors.New("sync engine is not connected")

// Uploader is the connector boundary as seen by the engine.
type Uploader interface {
	FetchCredentials(ctx context.Context) (*domain.Credentials, error)
	UploadData(ctx context.Context) error
}

type Service interface {
	// Connect fetches credentials and runs the upload loop until ctx ends or
	// Disconnect is called.
	Connect(ctx context.Context) error
	Disconnect()
	// Trigger requests an upload pass. Requests made while a pass is pending
	// are merged.
	Trigger()
	// UploadAll drains the upload queue through the connector.
	UploadAll(ctx context.Context) error
	Credentials() *domain.Credentials
}

type Options struct {
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

func NewService(log logger.Logger, uploader Uploader, crud domain.CrudRepo, statusSvc status.Service, opts Options) Service {
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = time.Second
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = time.Minute
	}

	return &service{
		log:      log.With().Str("module", "sync").Logger(),
		uploader: uploader,
		crud:     crud,
		status:   statusSvc,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
	}
}

type service struct {
	log      zerolog.Logger
	uploader Uploader
	crud     domain.CrudRepo
	status   status.Service
	opts     Options

	trigger chan struct{}

	mu     gosync.Mutex
	cancel context.CancelFunc
	creds  *domain.Credentials

	// uploading serializes upload passes
	uploading gosync.Mutex
}

func (s *service) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("sync engine is already connected")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()

		s.mu.Lock()
		s.cancel = nil
		s.creds = nil
		s.mu.Unlock()

		s.status.Disconnected()
	}()

	s.status.Connecting()

	creds, err := s.fetchCredentials(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()

	s.status.Connected()
	s.log.Info().Str("endpoint", creds.Endpoint).Msg("connected")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.uploadLoop(ctx)
	})

	s.Trigger()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	s.log.Info().Msg("disconnected")

	return nil
}

func (s *service) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

func (s *service) Credentials() *domain.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// fetchCredentials retries until the connector hands out credentials. An
// absent result means "not yet" and is retried with backoff.
func (s *service) fetchCredentials(ctx context.Context) (*domain.Credentials, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.opts.RetryInitialInterval
	exp.MaxInterval = s.opts.RetryMaxInterval
	exp.MaxElapsedTime = 0

	var creds *domain.Credentials
	err := backoff.RetryNotify(func() error {
		c, err := s.uploader.FetchCredentials(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c == nil {
			return errors.New("no credentials available")
		}
		creds = c
		return nil
	}, backoff.WithContext(exp, ctx), func(err error, d time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", d).Msg("could not connect")
	})
	if err != nil {
		return nil, err
	}

	return creds, nil
}

func (s *service) uploadLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
			s.uploadPass(ctx)
		}
	}
}

func (s *service) uploadPass(ctx context.Context) {
	n, err := s.crud.Count(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("could not read upload queue")
		return
	}
	if n == 0 {
		return
	}

	s.status.UploadStarted()
	err = s.UploadAll(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.status.UploadFinished(err)

	if err != nil {
		s.log.Error().Err(err).Msg("upload pass failed, will retry")
	}
}

func (s *service) UploadAll(ctx context.Context) error {
	s.uploading.Lock()
	defer s.uploading.Unlock()

	var lastClientID *int64

	for {
		tx, err := s.crud.NextTransaction(ctx)
		if err != nil {
			return errors.Wrap(err, "could not read upload queue")
		}
		if tx == nil || len(tx.Crud) == 0 {
			return nil
		}

		first := tx.Crud[0].ClientID
		if lastClientID != nil && *lastClientID == first {
			s.log.Warn().Int64("client_id", first).
				Msg("previously uploaded entries are still queued, make sure the connector completes its transactions")
			return nil
		}
		lastClientID = &first

		if err := s.uploader.UploadData(ctx); err != nil {
			return err
		}
	}
}
