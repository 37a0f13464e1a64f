package resilience

import "errors"

var (
	// ErrCircuitOpen is returned when a breaker rejects a call without attempting it.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrInvalidPolicy is returned by Do when the policy cannot run even once.
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
