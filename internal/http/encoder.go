package http

import (
	"context"
	"encoding/json"
	"net/http"
)

type encoder struct{}

type errorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

func (e encoder) StatusResponse(ctx context.Context, w http.ResponseWriter, response interface{}, status int) {
	if response == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (e encoder) NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (e encoder) StatusNotFound(ctx context.Context, w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
}

// StatusError writes err as a JSON error body with the given status.
func (e encoder) StatusError(w http.ResponseWriter, status int, err error) {
	e.StatusResponse(context.Background(), w, errorResponse{Message: err.Error(), Status: status}, status)
}

func (e encoder) Error(w http.ResponseWriter, err error) {
	e.StatusResponse(context.Background(), w, errorResponse{Message: err.Error()}, http.StatusInternalServerError)
}
