package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/presswire/contentqueue/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	var rerr *domain.ReadinessError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &rerr) && rerr.Permanent:
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotReady):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrLockUnavailable),
		errors.Is(err, domain.ErrLockLost),
		errors.Is(err, domain.ErrItemSkipped),
		errors.Is(err, domain.ErrItemCompleted):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrUnknownContentType),
		errors.Is(err, domain.ErrContextInactive),
		errors.Is(err, domain.ErrInvalidLanguage):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
