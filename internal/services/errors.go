package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrQuota         = errors.New("quota exhausted")
	ErrRateLimited   = errors.New("rate limited")
	ErrRetryLater    = errors.New("retry later")
	ErrUnavailable   = errors.New("provider unavailable")
	ErrAuth          = errors.New("credential rejected")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsQuotaRelated reports whether err carries a quota or rate-limit marker.
func IsQuotaRelated(err error) bool {
	return errors.Is(err, ErrQuota) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryLater)
}

// HTTPStatus maps an error to the status code the control API should return.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return 400
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrRetryLater), errors.Is(err, ErrRateLimited), errors.Is(err, ErrQuota):
		return 429
	case errors.Is(err, ErrUnavailable):
		return 503
	default:
		return 500
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
