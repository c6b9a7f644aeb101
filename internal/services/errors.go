package services

import (
	"errors"
	"net/http"
)

// Error taxonomy for the wallet core. Services wrap these sentinels with
// context via fmt.Errorf("%w: ...") and handlers translate them to HTTP
// status codes with ErrorStatusCode.
var (
	// ErrValidation - bad input (400).
	ErrValidation = errors.New("validation failed")
	// ErrAuthentication - bad webhook signature, no state change (401).
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotFound - unknown account, intent, or request (404).
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds - withdrawal exceeds available balance (400).
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidState - illegal state machine transition (409).
	ErrInvalidState = errors.New("invalid state transition")
	// ErrPersistence - transaction/commit failure (500). Safe to retry for
	// webhooks because of idempotency; withdrawal creation must re-check
	// balance before retrying.
	ErrPersistence = errors.New("persistence failure")
)

// ErrorStatusCode maps a service error to its HTTP status.
func ErrorStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// SendServiceError translates a service error into the JSON error envelope.
func SendServiceError(w http.ResponseWriter, err error) {
	SendErrorResponse(w, err.Error(), ErrorStatusCode(err), nil)
}
