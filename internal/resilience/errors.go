package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure that may succeed on a later attempt, such as
// a throttled or overloaded model endpoint.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as transient. statusCode is 0 when the failure
// did not come from an HTTP response.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err, or anything it wraps, is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientMessages {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"overloaded",
}

// IsTransientStatus reports whether an HTTP status code from an upstream API
// is safe to retry.
func IsTransientStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}
