package aiextract

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-payments/internal/resilience"
	"github.com/sells-group/contract-payments/pkg/anthropic"
)

// Model failure classes. Every error Extract returns matches exactly one of
// these with errors.Is.
var (
	ErrAuthentication    = eris.New("model API key is invalid or not authorized; check anthropic.key")
	ErrRateLimited       = eris.New("model rate limit or quota exceeded; try again later")
	ErrTimeout           = eris.New("model request timed out; try again or raise anthropic.timeout_secs")
	ErrMalformedResponse = eris.New("model returned a response that is not the expected JSON")
	ErrModelUnavailable  = eris.New("model request failed")
)

var classes = []error{ErrAuthentication, ErrRateLimited, ErrTimeout, ErrMalformedResponse, ErrModelUnavailable}

// ClassifiedError pairs a failure class with its cause.
type ClassifiedError struct {
	Class error
	Err   error
}

func (e *ClassifiedError) Error() string {
	return e.Class.Error() + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() []error {
	return []error{e.Class, e.Err}
}

// Classify maps a model call failure onto one of the failure classes.
// Throttling, timeouts and 5xx responses are additionally marked transient
// for resilience.IsTransient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classes {
		if errors.Is(err, c) {
			return err
		}
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		cause := err
		if resilience.IsTransientStatus(apiErr.StatusCode) {
			cause = resilience.NewTransientError(err, apiErr.StatusCode)
		}
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return &ClassifiedError{Class: ErrAuthentication, Err: err}
		case apiErr.StatusCode == 429:
			return &ClassifiedError{Class: ErrRateLimited, Err: cause}
		case apiErr.StatusCode == 408 || apiErr.StatusCode == 504:
			return &ClassifiedError{Class: ErrTimeout, Err: cause}
		default:
			return &ClassifiedError{Class: ErrModelUnavailable, Err: cause}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Class: ErrTimeout, Err: resilience.NewTransientError(err, 0)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClassifiedError{Class: ErrTimeout, Err: resilience.NewTransientError(err, 0)}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "authentication"):
		return &ClassifiedError{Class: ErrAuthentication, Err: err}
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		return &ClassifiedError{Class: ErrRateLimited, Err: resilience.NewTransientError(err, 0)}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return &ClassifiedError{Class: ErrTimeout, Err: resilience.NewTransientError(err, 0)}
	}
	return &ClassifiedError{Class: ErrModelUnavailable, Err: err}
}

// IsRetryable reports whether a classified failure may succeed on a later
// call. A cancelled parent context is never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return resilience.IsTransient(err)
}
