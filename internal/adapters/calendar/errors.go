package calendar

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork marks transient failures: transport errors, timeouts, 5xx and 429.
	ErrNetwork = errors.New("calendar network error")
	// ErrClient marks requests the provider rejected; retrying will not help.
	ErrClient = errors.New("calendar client error")
	// ErrDecode marks an unreadable response body.
	ErrDecode = errors.New("calendar decode error")
)

// StatusError carries a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Unwrap maps the status onto the taxonomy.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusTooManyRequests || e.Code >= 500 {
		return ErrNetwork
	}
	return ErrClient
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// transportError classifies a failed round trip. Anything that never produced
// a response is treated as transient.
func transportError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}

// reason maps an error to the short reason recorded on a failed employee.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrClient):
		return "client error: " + err.Error()
	case errors.Is(err, ErrNetwork):
		return "network error: " + err.Error()
	case errors.Is(err, ErrDecode):
		return "decode error: " + err.Error()
	default:
		return "unknown error: " + err.Error()
	}
}
