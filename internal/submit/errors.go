package submit

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/meridian-benefits/claimflow/pkg/claimsapi"
)

// IsRetryable reports whether a submission failure is safe to retry.
// Network faults, attempt timeouts, and transient backend statuses are
// retryable. Malformed payloads, policy rejections, and unknown errors
// are fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *claimsapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}

	// Per-attempt timeout expiry classifies as retryable.
	if errors.Is(err, context.DeadlineExceeded) {
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

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
