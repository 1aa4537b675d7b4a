package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flurbudurbur/localsync/internal/database"
	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var notesSchema = domain.Schema{Tables: []domain.Table{
	{Name: "notes", Columns: []domain.Column{
		{Name: "body", Type: domain.ColumnText},
	}},
}}

func setupDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &domain.Config{Database: domain.DatabaseConfig{Path: filepath.Join(t.TempDir(), "local.db")}}
	db, err := database.NewDB(cfg, logger.Mock(), nil)
	require.NoError(t, err)
	require.NoError(t, db.Open())
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplySchema(context.Background(), notesSchema))

	return db
}

func writeNote(t *testing.T, db *database.DB, id, body string) {
	t.Helper()
	_, err := db.Write(context.Background(), func(ctx context.Context, tx domain.Executor) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO notes (id, body) VALUES (?, ?)`, id, body)
		return err
	})
	require.NoError(t, err)
}

func queued(t *testing.T, db *database.DB) int {
	t.Helper()
	n, err := db.Crud().Count(context.Background())
	require.NoError(t, err)
	return n
}

func newTestBackend(url string, metrics *Metrics) *Backend {
	return NewBackend(logger.Mock(), BackendConfig{
		Endpoint:       url,
		Token:          "secret",
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, metrics)
}

func TestBackend_FetchCredentials(t *testing.T) {
	b := newTestBackend("https://sync.example.com/", nil)

	creds, err := b.FetchCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com", creds.Endpoint)
	assert.Equal(t, "secret", creds.Token)

	_, err = newTestBackend("", nil).FetchCredentials(context.Background())
	assert.Error(t, err)
}

func TestBackend_UploadData(t *testing.T) {
	db := setupDB(t)
	writeNote(t, db, "n1", "hello")
	writeNote(t, db, "n2", "world")

	var received []uploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, crudPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var req uploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = append(received, req)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"write_checkpoint":"cp-1"}`))
	}))
	defer srv.Close()

	b := newTestBackend(srv.URL, nil)

	require.NoError(t, b.UploadData(context.Background(), db))
	require.Len(t, received, 1)
	require.Len(t, received[0].Crud, 1)
	assert.Equal(t, "n1", received[0].Crud[0].ID)
	assert.Equal(t, domain.UpdateTypePut, received[0].Crud[0].Op)
	assert.Equal(t, "hello", *received[0].Crud[0].OpData["body"])
	assert.Equal(t, 1, queued(t, db))

	require.NoError(t, b.UploadData(context.Background(), db))
	assert.Equal(t, 0, queued(t, db))

	// empty queue makes no request
	require.NoError(t, b.UploadData(context.Background(), db))
	assert.Len(t, received, 2)

	cp, err := database.NewSyncStateRepo(logger.Mock(), db).WriteCheckpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "cp-1", *cp)
}

func TestBackend_UploadData_RetriesTransient(t *testing.T) {
	db := setupDB(t)
	writeNote(t, db, "n1", "hello")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestBackend(srv.URL, nil).UploadData(context.Background(), db))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, queued(t, db))
}

func TestBackend_UploadData_TransientExhausted(t *testing.T) {
	db := setupDB(t)
	writeNote(t, db, "n1", "hello")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := newTestBackend(srv.URL, nil).UploadData(context.Background(), db)
	require.Error(t, err)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusTooManyRequests, re.Status)
	assert.Equal(t, 1, queued(t, db), "entry must stay queued for the next attempt")
}

func TestBackend_UploadData_RejectedIsDiscarded(t *testing.T) {
	db := setupDB(t)
	writeNote(t, db, "n1", "hello")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid row", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	metrics := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, newTestBackend(srv.URL, metrics).UploadData(context.Background(), db))

	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
	assert.Equal(t, 0, queued(t, db))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.discarded))
}

func TestBackend_UploadData_UnauthorizedKeepsQueue(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			db := setupDB(t)
			writeNote(t, db, "n1", "hello")

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "token expired", status)
			}))
			defer srv.Close()

			metrics := NewMetrics(prometheus.NewRegistry())
			a := NewAdapter(logger.Mock(), newTestBackend(srv.URL, metrics), db, "", nil)

			err := a.UploadData(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrUploadFailed)

			var re *RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, status, re.Status)

			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, 1, queued(t, db), "entry must stay queued until credentials are fixed")
			assert.Zero(t, testutil.ToFloat64(metrics.discarded))
		})
	}
}

func TestBackend_UploadData_RequestTimeoutRetried(t *testing.T) {
	db := setupDB(t)
	writeNote(t, db, "n1", "hello")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "timeout", http.StatusRequestTimeout)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"write_checkpoint":"cp-1"}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestBackend(srv.URL, nil).UploadData(context.Background(), db))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, queued(t, db))
}

func TestBackend_ThroughAdapter(t *testing.T) {
	db := setupDB(t)
	writeNote(t, db, "n1", "hello")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAdapter(logger.Mock(), newTestBackend(srv.URL, nil), db, "", nil)

	err := a.UploadData(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUploadFailed)
	assert.Contains(t, err.Error(), "backend returned 502")
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(nil))
	assert.True(t, isTransient(&RemoteError{Status: 500}))
	assert.True(t, isTransient(&RemoteError{Status: 429}))
	assert.True(t, isTransient(&RemoteError{Status: 408}))
	assert.False(t, isTransient(&RemoteError{Status: 400}))
	assert.False(t, isTransient(&RemoteError{Status: 401}))
	assert.False(t, isTransient(context.Canceled))
	assert.True(t, isTransient(assert.AnError))
}

func TestRejectsData(t *testing.T) {
	assert.True(t, rejectsData(&RemoteError{Status: 400}))
	assert.True(t, rejectsData(errors.Wrap(&RemoteError{Status: 422}, "upload")))
	assert.False(t, rejectsData(&RemoteError{Status: 401}))
	assert.False(t, rejectsData(&RemoteError{Status: 403}))
	assert.False(t, rejectsData(&RemoteError{Status: 408}))
	assert.False(t, rejectsData(&RemoteError{Status: 500}))
	assert.False(t, rejectsData(assert.AnError))
	assert.False(t, rejectsData(nil))
}
