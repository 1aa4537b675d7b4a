package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const crudPath = "/api/crud"

// RemoteError is a non-2xx answer from the backend.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// isTransient reports whether a failed request is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 ||
			re.Status == http.StatusTooManyRequests ||
			re.Status == http.StatusRequestTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// rejectsData reports whether the backend refused the transaction contents
// themselves. Only such transactions are dropped from the queue; auth and
// other client errors leave it queued for a later attempt.
func rejectsData(err error) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	return re.Status == http.StatusBadRequest || re.Status == http.StatusUnprocessableEntity
}

type uploadRequest struct {
	TransactionID *int64             `json:"transaction_id"`
	Crud          []domain.CrudEntry `json:"crud"`
}

type uploadResponse struct {
	WriteCheckpoint *string `json:"write_checkpoint"`
}

type BackendConfig struct {
	Endpoint string
	Token    string
	UserID   string

	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Backend is a connector that posts queued transactions as JSON to a REST
// endpoint, one transaction per call.
type Backend struct {
	log     zerolog.Logger
	cfg     BackendConfig
	client  *http.Client
	metrics *Metrics
}

func NewBackend(log logger.Logger, cfg BackendConfig, metrics *Metrics) *Backend {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Backend{
		log:     log.With().Str("module", "backend").Logger(),
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		metrics: metrics,
	}
}

func (b *Backend) FetchCredentials(ctx context.Context) (*domain.Credentials, error) {
	if b.cfg.Endpoint == "" {
		return nil, errors.New("sync endpoint is not configured")
	}

	return &domain.Credentials{
		Endpoint: strings.TrimRight(b.cfg.Endpoint, "/"),
		Token:    b.cfg.Token,
		UserID:   b.cfg.UserID,
	}, nil
}

// UploadData sends the oldest queued transaction. Transactions the backend
// rejects with a client error other than 429 can never succeed and are
// dropped so they do not block the queue.
func (b *Backend) UploadData(ctx context.Context, db domain.Database) error {
	creds, err := b.FetchCredentials(ctx)
	if err != nil {
		return err
	}

	tx, err := db.Crud().NextTransaction(ctx)
	if err != nil {
		return errors.Wrap(err, "could not read upload queue")
	}
	if tx == nil {
		return nil
	}

	requestID := uuid.NewString()
	log := b.log.With().Str("request_id", requestID).Int("entries", len(tx.Crud)).Logger()

	body, err := json.Marshal(uploadRequest{TransactionID: tx.TransactionID, Crud: tx.Crud})
	if err != nil {
		return errors.Wrap(err, "could not encode transaction")
	}

	var resp uploadResponse
	err = b.retry(ctx, log, func() error {
		return b.post(ctx, creds, requestID, body, &resp)
	})

	if rejectsData(err) {
		b.metrics.discarded.Inc()
		log.Warn().Err(err).Msg("backend rejected transaction, discarding")
		return tx.Complete(ctx, nil)
	}
	if err != nil {
		return err
	}

	log.Debug().Msg("transaction uploaded")

	return tx.Complete(ctx, resp.WriteCheckpoint)
}

func (b *Backend) retry(ctx context.Context, log zerolog.Logger, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.cfg.InitialBackoff
	exp.MaxInterval = b.cfg.MaxBackoff
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, b.cfg.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, d time.Duration) {
		log.Warn().Err(err).Dur("retry_in", d).Msg("upload request failed")
	})
}

func (b *Backend) post(ctx context.Context, creds *domain.Credentials, requestID string, body []byte, out *uploadResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.Endpoint+crudPath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "could not create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}

	res, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "could not execute request")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return &RemoteError{Status: res.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if res.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "could not decode response")
	}

	return nil
}
