package connector

import (
	"context"
	"fmt"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// UploadError is returned by Adapter.UploadData when the connector failed.
type UploadError struct {
	Cause error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%v: %v", domain.ErrUploadFailed, e.Cause)
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}

func (e *UploadError) Is(target error) bool {
	return target == domain.ErrUploadFailed
}

// Adapter is the only caller of the application connector. It turns
// credential failures into a retry signal and upload failures into an
// UploadError.
type Adapter struct {
	log       zerolog.Logger
	connector domain.Connector
	db        domain.Database
	policy    domain.CredentialErrorPolicy
	metrics   *Metrics
}

func NewAdapter(log logger.Logger, connector domain.Connector, db domain.Database, policy domain.CredentialErrorPolicy, metrics *Metrics) *Adapter {
	if policy == "" {
		policy = domain.CredentialErrorsRetry
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Adapter{
		log:       log.With().Str("module", "connector").Logger(),
		connector: connector,
		db:        db,
		policy:    policy,
		metrics:   metrics,
	}
}

// FetchCredentials asks the connector for credentials. With the retry policy
// a failure is logged and reported as (nil, nil), which callers treat as "try
// again later". With the propagate policy the failure is returned wrapped in
// ErrCredentialFetchFailed.
func (a *Adapter) FetchCredentials(ctx context.Context) (*domain.Credentials, error) {
	a.metrics.credentialFetches.Inc()

	creds, err := a.connector.FetchCredentials(ctx)
	if err != nil {
		a.metrics.credentialFailures.Inc()
		a.log.Error().Err(err).Str("policy", string(a.policy)).Msg("could not fetch credentials")

		if a.policy == domain.CredentialErrorsPropagate {
			return nil, errors.Wrapf(domain.ErrCredentialFetchFailed, "%v", err)
		}
		return nil, nil
	}

	if creds == nil {
		a.log.Debug().Msg("connector returned no credentials")
	}

	return creds, nil
}

// UploadData hands the database handle to the connector. Writes the
// connector makes through it are change-tracked like any other session.
func (a *Adapter) UploadData(ctx context.Context) error {
	a.metrics.uploads.Inc()

	if err := a.connector.UploadData(ctx, a.db); err != nil {
		a.metrics.uploadFailures.Inc()
		a.log.Error().Err(err).Msg("could not upload data")
		return &UploadError{Cause: err}
	}

	return nil
}
