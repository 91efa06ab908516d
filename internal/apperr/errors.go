// Package apperr holds the error taxonomy shared by the appeal, decision
// and identity packages, and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidToken covers expired, consumed and badly signed tokens.
	ErrInvalidToken           = errors.New("invalid or expired token")
	ErrRateLimited            = errors.New("rate limited")
	ErrIneligible             = errors.New("not eligible to appeal")
	ErrDuplicateSubmission    = errors.New("appeal already submitted")
	ErrDuplicateDecision      = errors.New("appeal already processed")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrInvalidInput           = errors.New("invalid input")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrNotFound               = errors.New("not found")
)

// IneligibleReason explains why an appellant cannot appeal right now.
type IneligibleReason string

const (
	ReasonNoBan            IneligibleReason = "no_ban"
	ReasonDeclined         IneligibleReason = "declined"
	ReasonWindowClosed     IneligibleReason = "window_closed"
	ReasonAlreadySubmitted IneligibleReason = "already_submitted"
)

type IneligibleError struct {
	Reason IneligibleReason
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("not eligible to appeal: %s", e.Reason)
}

func (e *IneligibleError) Is(target error) bool { return target == ErrIneligible }

func Ineligible(reason IneligibleReason) error {
	return &IneligibleError{Reason: reason}
}

// RateLimitedError carries the remaining wait; zero means unknown.
type RateLimitedError struct {
	RetryAfter time.Duration
	Scope      string
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("rate limited (%s)", e.Scope)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

func RateLimited(scope string, retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &RateLimitedError{Scope: scope, RetryAfter: retryAfter}
}

// Invalid wraps ErrInvalidInput with a field-specific message.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Gateway wraps ErrGatewayUnavailable with the failing operation.
func Gateway(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
}

// IsIdempotencyHit reports errors that mean "this already happened"; they
// are not logged as failures.
func IsIdempotencyHit(err error) bool {
	return errors.Is(err, ErrDuplicateSubmission) || errors.Is(err, ErrDuplicateDecision)
}

// HTTPStatus maps an error from the taxonomy to a response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrIneligible):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateSubmission), errors.Is(err, ErrDuplicateDecision):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrGatewayUnavailable), errors.Is(err, ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Label is a short metric label for err.
func Label(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrIneligible):
		return "ineligible"
	case errors.Is(err, ErrDuplicateSubmission), errors.Is(err, ErrDuplicateDecision):
		return "duplicate"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrPersistenceUnavailable):
		return "persistence_unavailable"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
