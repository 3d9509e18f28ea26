package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Error describes a failed fetch after all retries were spent. Permanent
// errors (4xx, DNS failure, too many redirects) were never retried.
type Error struct {
	URL        string
	StatusCode int
	Attempts   int
	Permanent  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns a short human-readable cause for issue details.
func (e *Error) Reason() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// permanentError reports whether err (with the optional HTTP status that
// accompanied it) can never succeed on retry.
func permanentError(err error, statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		return true
	}
	if statusCode >= 500 {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if err != nil && strings.Contains(err.Error(), "stopped after") {
		// net/http redirect-loop guard ("stopped after 10 redirects").
		return true
	}
	return false
}

// transientError reports whether a retry might succeed.
func transientError(err error, statusCode int) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if permanentError(err, statusCode) {
		return false
	}
	if statusCode >= 500 {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// Unknown network-level failures get the benefit of the doubt.
	return err != nil
}
