package http

import (
	"context"
	"net/http"

	"github.com/flurbudurbur/localsync/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type crudBatchResponse struct {
	Crud    []domain.CrudEntry `json:"crud"`
	HasMore bool               `json:"has_more"`
}

type crudCountResponse struct {
	Count           int     `json:"count"`
	WriteCheckpoint *string `json:"write_checkpoint"`
}

// checkpointReader returns the write checkpoint reported by the last upload.
type checkpointReader interface {
	WriteCheckpoint(ctx context.Context) (*string, error)
}

type crudHandler struct {
	encoder     encoder
	crud        domain.CrudRepo
	checkpoints checkpointReader
	limit       int
}

func newCrudHandler(encoder encoder, crud domain.CrudRepo, checkpoints checkpointReader, limit int) *crudHandler {
	return &crudHandler{
		encoder:     encoder,
		crud:        crud,
		checkpoints: checkpoints,
		limit:       limit,
	}
}

func (h crudHandler) Routes(r chi.Router) {
	r.Get("/", h.batch)
	r.Get("/count", h.count)
}

// batch lists the oldest queued entries without acknowledging them.
func (h crudHandler) batch(w http.ResponseWriter, r *http.Request) {
	b, err := h.crud.Batch(r.Context(), h.limit)
	if err != nil {
		h.encoder.Error(w, err)
		return
	}

	resp := crudBatchResponse{Crud: []domain.CrudEntry{}}
	if b != nil {
		resp.Crud = b.Crud
		resp.HasMore = b.HasMore
	}

	render.JSON(w, r, resp)
}

func (h crudHandler) count(w http.ResponseWriter, r *http.Request) {
	n, err := h.crud.Count(r.Context())
	if err != nil {
		h.encoder.Error(w, err)
		return
	}

	resp := crudCountResponse{Count: n}
	if h.checkpoints != nil {
		if resp.WriteCheckpoint, err = h.checkpoints.WriteCheckpoint(r.Context()); err != nil {
			h.encoder.Error(w, err)
			return
		}
	}

	render.JSON(w, r, resp)
}
