package httpx

import (
	"errors"
	"net/http"
)

// Machine-readable error codes surfaced in the error envelope.
const (
	CodePeriodClosed      = "PERIOD_CLOSED"
	CodePeriodCheckFailed = "PERIOD_CHECK_FAILED"
	CodeApprovalPending   = "APPROVAL_PENDING"
	CodeApprovalConflict  = "APPROVAL_ALREADY_PENDING"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeForbidden         = "FORBIDDEN"
	CodeValidation        = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using the error envelope.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Error(w, http.StatusNotFound, err.Error(), CodeNotFound)
	case errors.Is(err, ErrDuplicate):
		Error(w, http.StatusConflict, err.Error(), CodeApprovalConflict)
	case errors.Is(err, ErrValidation):
		Error(w, http.StatusBadRequest, err.Error(), CodeValidation)
	case errors.Is(err, ErrForbidden):
		Error(w, http.StatusForbidden, err.Error(), CodeForbidden)
	case errors.Is(err, ErrUnauthorized):
		Error(w, http.StatusUnauthorized, err.Error(), CodeUnauthenticated)
	default:
		Error(w, http.StatusInternalServerError, "internal error", CodeInternal)
	}
}
