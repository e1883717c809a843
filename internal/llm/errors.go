package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrProviderTimeout marks an upstream call that exceeded its deadline.
// Callers may retry up to their own bound before surfacing it.
var ErrProviderTimeout = errors.New("provider timeout")

// ProviderError wraps a failure from the completion or embedding provider.
// Surfaced to callers as retryable.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// wrapProviderErr maps transport errors onto the taxonomy: deadline and
// net timeouts become ErrProviderTimeout, everything else a ProviderError.
func wrapProviderErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrProviderTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w", op, ErrProviderTimeout)
	}
	return &ProviderError{Op: op, Err: err}
}
