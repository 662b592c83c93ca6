package providers

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"autovideo/internal/services"
)

// Class is the gateway's view of a failed call.
type Class string

// Error classes. Quota, RateLimited and Auth are credential specific and
// trigger rotation; the others never do.
const (
	ClassNone        Class = ""
	ClassQuota       Class = "quota"
	ClassRateLimited Class = "rate_limited"
	ClassAuth        Class = "auth"
	ClassTransient   Class = "transient"
	ClassValidation  Class = "validation"
	ClassFatal       Class = "fatal"
)

// Rotates reports whether a different credential could fix the failure.
func (c Class) Rotates() bool {
	return c == ClassQuota || c == ClassRateLimited || c == ClassAuth
}

// Classifier maps an error to a Class. Callers may supply their own to
// override the default rules for a specific call.
type Classifier func(error) Class

// Classify applies the default rules: services markers first, then
// timeouts and dropped connections, then well-known message fragments.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	switch {
	case errors.Is(err, services.ErrQuota):
		return ClassQuota
	case errors.Is(err, services.ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, services.ErrAuth):
		return ClassAuth
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		return ClassValidation
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrTimeout):
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, context.Canceled):
		return ClassFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}
	return ClassifyMessage(err.Error())
}

// statusToken matches an HTTP status code standing alone in a message, so
// request ids and byte counts that merely contain the digits are ignored.
var statusToken = regexp.MustCompile(`\b(400|401|403|404|408|422|429|5\d\d)\b`)

// ClassifyMessage inspects an error string for provider status hints. Quota
// and credential phrases win over status codes, which win over generic
// phrases; Gemini reports rejected keys as 400 and exhausted quota as 429.
func ClassifyMessage(message string) Class {
	message = strings.ToLower(message)
	switch {
	case containsAny(message, "insufficient_quota", "resource_exhausted", "exceeded your current quota", "quota exceeded", "quota"):
		return ClassQuota
	case containsAny(message, "invalid api key", "incorrect api key", "api key not valid", "api_key_invalid", "permission_denied", "unauthenticated"):
		return ClassAuth
	}
	if code := statusToken.FindString(message); code != "" {
		status, _ := strconv.Atoi(code)
		return StatusClass(status)
	}
	switch {
	case containsAny(message, "rate limit", "rate_limit", "too many requests"):
		return ClassRateLimited
	case containsAny(message, "invalid_argument", "invalid_request", "content blocked", "safety"):
		return ClassValidation
	case containsAny(message, "timeout", "deadline exceeded", "connection reset", "connection refused",
		"temporary failure", "unavailable", "unexpected eof"):
		return ClassTransient
	}
	return ClassFatal
}

// StatusClass maps an HTTP status code to a Class. Codes without a meaning
// for rotation or retry are ClassFatal.
func StatusClass(status int) Class {
	switch {
	case status == 429:
		return ClassRateLimited
	case status == 401 || status == 403:
		return ClassAuth
	case status == 400 || status == 404 || status == 422:
		return ClassValidation
	case status == 408 || status >= 500:
		return ClassTransient
	default:
		return ClassFatal
	}
}

func containsAny(s string, tokens ...string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}

// WrapStatus tags err with the services marker matching an HTTP status code.
func WrapStatus(component, operation string, status int, err error) error {
	var marker error
	switch StatusClass(status) {
	case ClassRateLimited:
		marker = services.ErrRateLimited
		if ClassifyMessage(err.Error()) == ClassQuota {
			marker = services.ErrQuota
		}
	case ClassAuth:
		marker = services.ErrAuth
	case ClassValidation:
		marker = services.ErrValidation
	case ClassTransient:
		marker = services.ErrTransient
	default:
		return err
	}
	return services.Wrap(marker, component, operation, "provider rejected request", err)
}
