package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a fetch failure worth retrying: timeouts, connection
// resets, and 5xx responses.
type TransientError struct {
	Location string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch error for %s: %v", e.Location, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a fetch failure that retrying cannot fix: 4xx
// responses, unsupported schemes, unreadable files.
type PermanentError struct {
	Location   string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent fetch error for %s: HTTP %d", e.Location, e.StatusCode)
	}
	return fmt.Sprintf("permanent fetch error for %s: %v", e.Location, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classifyTransport wraps a transport-level error as transient or permanent.
// Network timeouts and resets are transient; context cancellation and
// malformed requests are not.
func classifyTransport(location string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Location: location, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransientError{Location: location, Err: err}
	}
	return &PermanentError{Location: location, Err: err}
}
