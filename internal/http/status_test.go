package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"
	"github.com/flurbudurbur/localsync/internal/status"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type priorityEntryResponse struct {
	Priority     int32      `json:"priority"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	HasSynced    *bool      `json:"has_synced"`
}

type statusResponse struct {
	Connected   bool                    `json:"connected"`
	Uploading   bool                    `json:"uploading"`
	UploadError *string                 `json:"upload_error"`
	HasSynced   *bool                   `json:"has_synced"`
	Priorities  []priorityEntryResponse `json:"priority_status_entries"`
}

func newStatusRouter(svc status.Service) chi.Router {
	router := chi.NewRouter()
	newStatusHandler(encoder{}, svc).Routes(router)
	return router
}

func TestStatusHandler_Current(t *testing.T) {
	svc := status.NewService(logger.Mock(), nil)
	svc.Connected()
	svc.UploadStarted()
	svc.UploadFinished(domain.ErrUploadFailed)

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	newStatusRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Connected)
	assert.False(t, resp.Uploading)
	require.NotNil(t, resp.UploadError)
	assert.Equal(t, domain.ErrUploadFailed.Error(), *resp.UploadError)
	assert.Nil(t, resp.HasSynced)
	assert.Empty(t, resp.Priorities)
}

func TestStatusHandler_ForPriority(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	svc := status.NewService(logger.Mock(), nil)
	require.NoError(t, svc.PriorityCompleted(ctx, domain.NewBucketPriority(1), at))

	router := newStatusRouter(svc)

	t.Run("covered priority", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/priority/0", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp priorityEntryResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, int32(1), resp.Priority)
		require.NotNil(t, resp.LastSyncedAt)
		assert.True(t, at.Equal(*resp.LastSyncedAt))
	})

	t.Run("falls back to full sync", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/priority/3", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp priorityEntryResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, domain.FullSyncPriority.Code(), resp.Priority)
		assert.Nil(t, resp.LastSyncedAt)
		assert.Nil(t, resp.HasSynced)
	})

	for _, code := range []string{"-1", "abc", "99999999999"} {
		t.Run("invalid code "+code, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/priority/"+code, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, http.StatusBadRequest, resp.Status)
			assert.NotEmpty(t, resp.Message)
		})
	}
}
