package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fieldlock/fieldlock/blob"
	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/filecrypt"
	"github.com/fieldlock/fieldlock/identity"
	"github.com/fieldlock/fieldlock/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrBadCursor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, filecrypt.ErrMetadataPending):
		// Propagation of the metadata side channel has not caught up
		// yet; the caller should retry.
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, crypto.ErrDecrypt):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, crypto.ErrKeyNotConfigured):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
