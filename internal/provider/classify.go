package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a send failure for the retry policy
type ErrorKind string

const (
	// KindTransient covers network and server errors, retried up to the limit
	KindTransient ErrorKind = "transient"
	// KindRateLimited means the provider is throttling; triggers a global pause
	KindRateLimited ErrorKind = "rate_limited"
	// KindFatalSession means expired/invalid auth; the campaign halts immediately
	KindFatalSession ErrorKind = "fatal_session"
	// KindFatalPayload means the message itself is unsendable; no retry
	KindFatalPayload ErrorKind = "fatal_payload"
)

// SendError is a classified provider failure
type SendError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ClassifyStatus maps an HTTP response from a provider to a SendError
func ClassifyStatus(statusCode int, body string) *SendError {
	lower := strings.ToLower(body)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &SendError{Kind: KindRateLimited, StatusCode: statusCode, Message: "rate limit exceeded"}
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota exceeded"):
		return &SendError{Kind: KindRateLimited, StatusCode: statusCode, Message: firstLine(body)}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &SendError{Kind: KindFatalSession, StatusCode: statusCode, Message: "authentication expired or rejected"}
	case statusCode == http.StatusRequestEntityTooLarge:
		return &SendError{Kind: KindFatalPayload, StatusCode: statusCode, Message: "message payload too large"}
	case statusCode == http.StatusBadRequest && strings.Contains(lower, "invalid"):
		return &SendError{Kind: KindFatalPayload, StatusCode: statusCode, Message: firstLine(body)}
	default:
		return &SendError{Kind: KindTransient, StatusCode: statusCode, Message: firstLine(body)}
	}
}

// ClassifyTransport wraps a transport-level error (DNS, timeout, refused
// connection) as a retryable transient failure
func ClassifyTransport(err error) *SendError {
	return &SendError{Kind: KindTransient, Message: err.Error()}
}

// IsRetryable reports whether the error allows another local attempt
func IsRetryable(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	// Unclassified errors are treated as transient
	return err != nil
}

// IsRateLimited reports whether the error indicates provider throttling
func IsRateLimited(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Kind == KindRateLimited
}

// IsFatal reports whether the error forbids any further attempt
func IsFatal(err error) bool {
	var se *SendError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == KindFatalSession || se.Kind == KindFatalPayload
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return strings.TrimSpace(s)
}
