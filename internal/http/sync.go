package http

import (
	"net/http"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type syncService interface {
	Trigger()
	Credentials() *domain.Credentials
}

type syncHandler struct {
	encoder     encoder
	syncService syncService
	status      statusService
}

func newSyncHandler(encoder encoder, syncService syncService, status statusService) *syncHandler {
	return &syncHandler{
		encoder:     encoder,
		syncService: syncService,
		status:      status,
	}
}

func (h syncHandler) Routes(r chi.Router) {
	r.Post("/upload", h.upload)
	r.Get("/credentials", h.credentials)
}

func (h syncHandler) upload(w http.ResponseWriter, r *http.Request) {
	if !h.status.Current().Connected {
		h.encoder.StatusError(w, http.StatusConflict, sync.ErrNotConnected)
		return
	}

	h.syncService.Trigger()

	h.encoder.StatusResponse(r.Context(), w, nil, http.StatusAccepted)
}

func (h syncHandler) credentials(w http.ResponseWriter, r *http.Request) {
	creds := h.syncService.Credentials()
	if creds == nil {
		h.encoder.StatusNotFound(r.Context(), w)
		return
	}

	render.JSON(w, r, creds)
}
