package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/account"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/registry"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/token"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/upstream"
)

type errorResponse struct {
	Error string `json:"error"`
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()

	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// respondError maps the core error taxonomy onto HTTP statuses:
// not-found 404, validation 400, unauthorized 401, upstream 502,
// anything else 500.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrUnauthorized), errors.Is(err, account.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, upstream.ErrUpstream), errors.Is(err, token.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
