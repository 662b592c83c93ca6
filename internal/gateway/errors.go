package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"autovideo/internal/providers"
	"autovideo/internal/services"
)

// Attempt outcomes that are not provider error classes.
const (
	OutcomeNoKeys      = "no_keys"
	OutcomeDeferred    = "deferred"
	OutcomeUnsupported = "unsupported"
)

// Attempt records one provider/key try.
type Attempt struct {
	Provider   string        `json:"provider"`
	Key        string        `json:"key,omitempty"`
	Outcome    string        `json:"outcome"`
	Message    string        `json:"message,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (a Attempt) quotaRelated() bool {
	switch a.Outcome {
	case string(providers.ClassQuota), string(providers.ClassRateLimited), OutcomeNoKeys, OutcomeDeferred:
		return true
	default:
		return false
	}
}

// CallError aggregates every attempt made for a call that did not succeed.
type CallError struct {
	Operation providers.Operation
	Attempts  []Attempt
	// RetryAt is set when at least one provider was deferred by its ceiling
	// or throttle and no attempt failed for a non-quota reason.
	RetryAt time.Time
	cause   error
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s call failed after %d attempt(s)", e.Operation, len(e.Attempts))
	if !e.RetryAt.IsZero() {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAt.UTC().Format(time.RFC3339))
	}
	for _, attempt := range e.Attempts {
		b.WriteString("; ")
		b.WriteString(attempt.Provider)
		if attempt.Key != "" {
			b.WriteString("[" + attempt.Key + "]")
		}
		b.WriteString(" " + attempt.Outcome)
		if attempt.Message != "" {
			b.WriteString(": " + attempt.Message)
		}
	}
	return b.String()
}

// Unwrap exposes the error that ended the call, when there was one.
func (e *CallError) Unwrap() error { return e.cause }

// Is reports quota, rejected-credential and retry-later semantics for the
// aggregate. A call whose keys were rejected is never a quota failure.
func (e *CallError) Is(target error) bool {
	switch target {
	case services.ErrQuota:
		return e.QuotaOnly()
	case services.ErrAuth, services.ErrConfiguration:
		return e.rejectedCredential()
	case services.ErrRetryLater:
		return !e.RetryAt.IsZero()
	default:
		return false
	}
}

// QuotaOnly reports whether every attempt failed for a quota-related reason.
// Providers skipped as unsupported do not count either way.
func (e *CallError) QuotaOnly() bool {
	counted := 0
	for _, attempt := range e.Attempts {
		if attempt.Outcome == OutcomeUnsupported {
			continue
		}
		if !attempt.quotaRelated() {
			return false
		}
		counted++
	}
	return counted > 0
}

func (e *CallError) rejectedCredential() bool {
	for _, attempt := range e.Attempts {
		if attempt.Outcome == string(providers.ClassAuth) {
			return true
		}
	}
	return false
}

// RetryAfter returns how long to wait from now before retrying, or zero.
func (e *CallError) RetryAfter(now time.Time) time.Duration {
	if e.RetryAt.IsZero() || !e.RetryAt.After(now) {
		return 0
	}
	return e.RetryAt.Sub(now)
}

// AsCallError extracts a *CallError from err.
func AsCallError(err error) (*CallError, bool) {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr, true
	}
	return nil, false
}
