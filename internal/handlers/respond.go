package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pliu/chatty/internal/auth"
	"github.com/pliu/chatty/internal/store"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondWithMessage(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, ErrorResponse{Message: message, Code: status})
}

// respondError maps store, auth and validation errors onto status codes.
// Anything unrecognised is logged and reported as a 500 without details.
func respondError(w http.ResponseWriter, log *slog.Logger, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		respondWithMessage(w, validationErrs.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrInvalidInput):
		respondWithMessage(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		respondWithMessage(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		respondWithMessage(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrUnauthorized), errors.Is(err, auth.ErrInvalidCredentials):
		respondWithMessage(w, "Invalid credentials", http.StatusUnauthorized)
	default:
		log.Error("Request failed", "error", err)
		respondWithMessage(w, "Internal server error", http.StatusInternalServerError)
	}
}

func unauthorized(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("WWW-Authenticate", `Basic realm="chatty"`)
	respondWithMessage(w, "Unauthorized", http.StatusUnauthorized)
}
