package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/auction-fulfillment/internal/api/middleware"
	"github.com/example/auction-fulfillment/internal/chat"
	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/lock"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err error) {
	status, code := mapDomainError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	middleware.WriteError(w, status, code, message)
}

// mapDomainError gives every error kind its own status and code. Typed
// variants are matched through their kind.
func mapDomainError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, order.ErrAlreadySet):
		return http.StatusConflict, "ALREADY_SET"
	case errors.Is(err, reputation.ErrDuplicateRating):
		return http.StatusConflict, "DUPLICATE_RATING"
	case errors.Is(err, order.ErrOrderExists):
		return http.StatusConflict, "ORDER_EXISTS"
	case errors.Is(err, order.ErrConcurrencyConflict), errors.Is(err, lock.ErrLockHeld):
		return http.StatusConflict, "CONCURRENCY_CONFLICT"
	case errors.Is(err, order.ErrValidationFailed), errors.Is(err, reputation.ErrInvalidRating):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, chat.ErrChannelUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
