package retry

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ClassifyHTTP classifies HTTP errors by status code
func ClassifyHTTP(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return RateLimited
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusGatewayTimeout:
		return Retryable
	case statusCode >= 500 && statusCode < 600:
		return Retryable
	default:
		return Permanent
	}
}

// statusPatterns is checked in order; the first match wins.
var statusPatterns = []struct {
	pattern string
	errType ErrorType
}{
	{"429", RateLimited},
	{"408", Retryable},
	{"500", Retryable},
	{"502", Retryable},
	{"503", Retryable},
	{"504", Retryable},
	{"400", Permanent},
	{"401", Permanent},
	{"403", Permanent},
	{"404", Permanent},
	{"422", Permanent},
}

// ClassifyHTTPError classifies error strings containing status codes
func ClassifyHTTPError(err error) ErrorType {
	if err == nil {
		return Permanent
	}

	errStr := err.Error()
	errLower := strings.ToLower(errStr)

	// GitHub reports primary and secondary rate limits as 403.
	if strings.Contains(errLower, "rate limit") ||
		strings.Contains(errLower, "too many requests") {
		return RateLimited
	}

	for _, p := range statusPatterns {
		if strings.Contains(errStr, "HTTP "+p.pattern) || strings.Contains(errStr, " "+p.pattern+" ") ||
			strings.Contains(errStr, " "+p.pattern+":") {
			return p.errType
		}
	}

	if strings.Contains(errLower, "connection refused") ||
		strings.Contains(errLower, "connection reset") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "timed out") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "could not resolve host") ||
		strings.Contains(errLower, "temporary failure") ||
		strings.Contains(errLower, "unexpected eof") ||
		strings.Contains(errLower, "network") {
		return Retryable
	}

	return Permanent
}

// ClassifyRemote classifies errors from the hosting platform.
// Cancellation is never retried.
func ClassifyRemote(err error) ErrorType {
	if err == nil || errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	return ClassifyHTTPError(err)
}
