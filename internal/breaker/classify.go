package breaker

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransportErrorCodes are the legacy error codes spec §4.B and §4.E both
// classify as retryable/failing. They're named after Node's libuv error
// codes because the gateway this spec distills mirrors a Node.js API
// gateway's observable behavior; Go errors are mapped onto this set via
// syscall/net.Error inspection in ClassifyTransportError.
var TransportErrorCodes = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"ECONNREFUSED",
	"ENOTFOUND",
	"ECONNABORTED",
}

// ClassifyTransportError reports whether err is one of the transport-level
// failures spec §4.B lists (connection reset, timeout, refused, DNS
// not-found, connection aborted), checked against Go's own error types
// rather than string codes where possible.
func ClassifyTransportError(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Legacy compatibility: some callers (or wrapped errors from the auth
	// plugin's HTTP client) surface the code only in the error's message.
	msg := err.Error()
	for _, code := range TransportErrorCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// ClassifyHTTPStatus implements spec §4.B's status-classification rule:
// upstream responses >=500 are failures, [400,500) are successes (client
// fault, not upstream fault), everything else (2xx/3xx) is a success.
func ClassifyHTTPStatus(status int) (isFailure bool) {
	return status >= 500
}
