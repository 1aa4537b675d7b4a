package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/flurbudurbur/localsync/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type statusService interface {
	Current() domain.SyncStatus
	Subscribe(ctx context.Context) <-chan domain.SyncStatus
}

type statusHandler struct {
	encoder encoder
	status  statusService
}

func newStatusHandler(encoder encoder, status statusService) *statusHandler {
	return &statusHandler{
		encoder: encoder,
		status:  status,
	}
}

func (h statusHandler) Routes(r chi.Router) {
	r.Get("/", h.current)
	r.Get("/priority/{code}", h.forPriority)
}

func (h statusHandler) current(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.status.Current())
}

func (h statusHandler) forPriority(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.ParseInt(chi.URLParam(r, "code"), 10, 64)
	if err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, err)
		return
	}

	p, err := domain.ParseBucketPriority(code)
	if err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, err)
		return
	}

	render.JSON(w, r, h.status.Current().StatusForPriority(p))
}
