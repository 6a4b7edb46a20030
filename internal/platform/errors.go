package platform

import (
	"errors"
	"net/http"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/errs"
)

var errMissingResult = errors.New("trpc envelope missing result field")

// platformError is the platform-level {code, message} pair unwrapped out
// of a trpc error envelope, before it is mapped to a RuntimeError.
type platformError struct {
	Code    string
	Message string
}

func (e *platformError) Error() string { return e.Code + ": " + e.Message }

// statusForCode maps a platform error code to the HTTP status this
// system surfaces outward, per spec.md §4.2.
func statusForCode(code string) int {
	switch code {
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "FORBIDDEN":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "BAD_REQUEST":
		return http.StatusBadRequest
	case "CONFLICT":
		return http.StatusConflict
	case "PAYLOAD_TOO_LARGE":
		return http.StatusRequestEntityTooLarge
	case "TOO_MANY_REQUESTS":
		return http.StatusTooManyRequests
	case "NOT_IMPLEMENTED":
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}

// nonRetryableCodes are platform error codes that are never retried;
// any other platform error code is treated as retryable.
var nonRetryableCodes = map[string]struct{}{
	"CONFLICT":          {},
	"BAD_REQUEST":       {},
	"UNAUTHORIZED":      {},
	"FORBIDDEN":         {},
	"NOT_FOUND":         {},
	"NOT_IMPLEMENTED":   {},
	"PAYLOAD_TOO_LARGE": {},
}

func isRetryableCode(code string) bool {
	_, nonRetryable := nonRetryableCodes[code]
	return !nonRetryable
}

var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooEarly:            {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

func isRetryableStatus(status int) bool {
	_, ok := retryableStatuses[status]
	return ok
}

func toRuntimeError(procedure string, err error) *errs.RuntimeError {
	if re, ok := errs.As(err); ok {
		return re
	}

	var pe *platformError
	if errors.As(err, &pe) {
		return &errs.RuntimeError{
			Status:  statusForCode(pe.Code),
			Code:    pe.Code,
			Message: pe.Message,
			Details: map[string]string{"procedure": procedure},
			Cause:   err,
		}
	}

	return errs.Wrap(502, errs.CodeNetworkError, "platform request failed", err).
		WithDetails(map[string]string{"procedure": procedure})
}
