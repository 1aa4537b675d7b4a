package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DBPinger is satisfied by *database.DB.
type DBPinger interface {
	Ping() error
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

type healthHandler struct {
	encoder encoder
	db      DBPinger
}

func newHealthHandler(encoder encoder, db DBPinger) *healthHandler {
	return &healthHandler{
		encoder: encoder,
		db:      db,
	}
}

func (h healthHandler) Routes(r chi.Router) {
	r.Get("/liveness", h.liveness)
	r.Get("/readiness", h.readiness)
}

func (h healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	h.encoder.StatusResponse(r.Context(), w, healthResponse{Status: "ok"}, http.StatusOK)
}

// readiness fails while the local database cannot be reached, since no
// session or upload can run without it.
func (h healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		h.encoder.StatusResponse(r.Context(), w, healthResponse{
			Status:   "unavailable",
			Database: err.Error(),
		}, http.StatusServiceUnavailable)
		return
	}

	h.encoder.StatusResponse(r.Context(), w, healthResponse{Status: "ok", Database: "ok"}, http.StatusOK)
}
