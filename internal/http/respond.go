package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/repository"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps the error taxonomy onto HTTP status codes. Anything
// unrecognised is logged and reported as a 500 without internal detail.
func handleError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		external   *domain.ExternalServiceError
		signature  *domain.SignatureVerificationError
	)

	switch {
	case errors.As(err, &validation):
		respondError(w, http.StatusBadRequest, "invalid_request", validation.Error())
	case errors.As(err, &signature):
		respondError(w, http.StatusUnauthorized, "invalid_signature", signature.Error())
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, "not_found", notFound.Error())
	case errors.Is(err, repository.ErrTenantNotFound), errors.Is(err, repository.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, repository.ErrDuplicatePhoneNumberID):
		respondError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, repository.ErrOrderStateConflict):
		respondError(w, http.StatusConflict, "state_conflict", err.Error())
	case errors.As(err, &external):
		logger.ErrorContext(r.Context(), "upstream call failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusBadGateway, "upstream_error", external.Service+" request failed")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
