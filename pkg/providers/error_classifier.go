package providers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FailoverReason identifies why a provider call failed.
type FailoverReason string

const (
	FailoverAuth         FailoverReason = "auth"
	FailoverBilling      FailoverReason = "billing"
	FailoverRateLimit    FailoverReason = "rate_limit"
	FailoverTimeout      FailoverReason = "timeout"
	FailoverOverloaded   FailoverReason = "overloaded"
	FailoverModelInvalid FailoverReason = "model_invalid"
	FailoverFormat       FailoverReason = "format"
	FailoverUnknown      FailoverReason = "unknown"
)

// FailoverError wraps a provider error with its classified reason.
type FailoverError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Status   int
	Wrapped  error
}

func (e *FailoverError) Error() string {
	return fmt.Sprintf("%s/%s: %v (reason=%s)", e.Provider, e.Model, e.Wrapped, e.Reason)
}

func (e *FailoverError) Unwrap() error { return e.Wrapped }

// IsRetriable reports whether the next fallback candidate should be tried.
// Format errors are caller bugs; retrying a different model will not help.
func (e *FailoverError) IsRetriable() bool {
	return e.Reason != FailoverFormat
}

var statusPattern = regexp.MustCompile(`status[:=\s]+(\d{3})`)

// ClassifyError maps a raw provider error to a FailoverError. Returns nil for
// nil errors and for context.Canceled (user abort, never a failover signal).
func ClassifyError(err error, provider, model string) *FailoverError {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	fe := &FailoverError{Provider: provider, Model: model, Wrapped: err}

	if errors.Is(err, context.DeadlineExceeded) {
		fe.Reason = FailoverTimeout
		return fe
	}

	msg := strings.ToLower(err.Error())

	if m := statusPattern.FindStringSubmatch(msg); len(m) == 2 {
		status, _ := strconv.Atoi(m[1])
		fe.Status = status
		switch {
		case status == 401 || status == 403:
			fe.Reason = FailoverAuth
			return fe
		case status == 402:
			fe.Reason = FailoverBilling
			return fe
		case status == 408:
			fe.Reason = FailoverTimeout
			return fe
		case status == 429:
			fe.Reason = FailoverRateLimit
			return fe
		case status == 400 || status == 404 || status == 422:
			fe.Reason = FailoverModelInvalid
			return fe
		case status >= 500:
			fe.Reason = FailoverTimeout
			return fe
		}
	}

	switch {
	case containsAny(msg, "rate limit", "rate_limit", "too many requests",
		"current quota", "resource has been exhausted", "resource_exhausted",
		"quota exceeded", "usage limit"):
		fe.Reason = FailoverRateLimit
	case containsAny(msg, "overloaded", "capacity"):
		fe.Reason = FailoverOverloaded
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		fe.Reason = FailoverTimeout
	case containsAny(msg, "unauthorized", "invalid api key", "invalid x-api-key", "authentication"):
		fe.Reason = FailoverAuth
	case containsAny(msg, "insufficient credits", "billing", "payment required"):
		fe.Reason = FailoverBilling
	case containsAny(msg, "model not found", "unknown model", "does not exist"):
		fe.Reason = FailoverModelInvalid
	case containsAny(msg, "invalid request", "malformed", "unsupported parameter"):
		fe.Reason = FailoverFormat
	default:
		return nil
	}

	return fe
}

// IsRetriableError reports whether an error is worth a same-candidate retry:
// transient upstream conditions only.
func IsRetriableError(err error) bool {
	classified := ClassifyError(err, "", "")
	if classified == nil {
		// Unclassifiable network-ish errors get one more chance.
		return err != nil && !errors.Is(err, context.Canceled)
	}
	switch classified.Reason {
	case FailoverTimeout, FailoverRateLimit, FailoverOverloaded:
		return true
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
