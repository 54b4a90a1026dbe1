package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNetworkUnavailable means the carrier could not be reached at all.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrEmptyResponse means a 200 response arrived without a body.
	ErrEmptyResponse = errors.New("empty response")
	// ErrUnexpectedResponse means the server answered with content we could not make sense of.
	ErrUnexpectedResponse = errors.New("unexpected protocol response")

	ErrCaptchaTimeout     = errors.New("no captcha answer received in time")
	ErrCaptchaAnswerEmpty = errors.New("captcha answer is empty")
	ErrCaptchaBusy        = errors.New("another captcha is already waiting for an answer")

	// ErrCaptchaRejected is reported by the carrier for a wrong answer.
	// The whole send may be restarted with a fresh challenge.
	ErrCaptchaRejected = errors.New("captcha answer rejected by carrier")

	ErrDeliveryFailed    = errors.New("message delivery failed")
	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrInvalidMessage    = errors.New("invalid message text")
	ErrConnectorDisabled = errors.New("connector is disabled")
	ErrQueueFull         = errors.New("send queue is full")
)

// =============================================================================
// Typed Errors
// =============================================================================

// HTTPStatusError is returned for any response whose status is not 200.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d %s (%s)", e.StatusCode, e.Reason, e.URL)
}

// ProtocolError describes malformed or unrecognized server content at a
// given workflow stage. It always matches ErrUnexpectedResponse.
type ProtocolError struct {
	Stage  string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrUnexpectedResponse, e.Stage, e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return ErrUnexpectedResponse
}

func newProtocolError(stage, format string, args ...any) error {
	return &ProtocolError{Stage: stage, Detail: fmt.Sprintf(format, args...)}
}

// SendRejectedError carries the refusal text shown by the carrier.
type SendRejectedError struct {
	Reason string
}

func (e *SendRejectedError) Error() string {
	return "send rejected by carrier: " + e.Reason
}

// UnrecognizedStatusError is a delivery status code missing from the profile table.
type UnrecognizedStatusError struct {
	Code string
}

func (e *UnrecognizedStatusError) Error() string {
	return fmt.Sprintf("unrecognized delivery status %q", e.Code)
}

// =============================================================================
// Classification
// =============================================================================

// CanRestart reports whether the caller may run the whole send again.
// Only a carrier-reported wrong captcha qualifies; everything else fails fast.
func CanRestart(err error) bool {
	return errors.Is(err, ErrCaptchaRejected)
}

// UserMessage turns any send error into the single line shown to the end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		statusErr   *HTTPStatusError
		rejectedErr *SendRejectedError
		unknownErr  *UnrecognizedStatusError
	)

	switch {
	case errors.As(err, &rejectedErr):
		return "Carrier refused the message: " + rejectedErr.Reason
	case errors.As(err, &statusErr):
		return "Carrier site returned an error: " + statusErr.Reason
	case errors.As(err, &unknownErr):
		return fmt.Sprintf("Carrier reported an unknown delivery status (%s)", unknownErr.Code)
	case errors.Is(err, ErrConnectorDisabled):
		return "The connector is disabled"
	case errors.Is(err, ErrNetworkUnavailable):
		return "No network connection"
	case errors.Is(err, ErrEmptyResponse):
		return "Carrier site returned an empty response"
	case errors.Is(err, ErrUnexpectedResponse):
		return "Carrier site returned an unexpected response"
	case errors.Is(err, ErrCaptchaTimeout):
		return "No captcha answer was given"
	case errors.Is(err, ErrCaptchaAnswerEmpty):
		return "The captcha answer was empty"
	case errors.Is(err, ErrCaptchaBusy):
		return "Another message is waiting for a captcha answer"
	case errors.Is(err, ErrCaptchaRejected):
		return "The captcha answer was wrong"
	case errors.Is(err, ErrDeliveryFailed):
		return "The message could not be delivered"
	case errors.Is(err, ErrInvalidRecipient):
		return "Recipient must be a Russian mobile number (+7...)"
	case errors.Is(err, ErrInvalidMessage):
		return "Message text is empty or too long"
	case errors.Is(err, ErrQueueFull):
		return "Too many messages are waiting, try again later"
	default:
		return "Sending failed: " + err.Error()
	}
}

// =============================================================================
// Transport Errors
// =============================================================================

// transportErrorPatterns contains error message substrings that indicate the
// remote side could not be reached, as opposed to answering badly.
var transportErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"context deadline exceeded",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError checks if the error is a transport-level failure.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsTransportPattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func containsTransportPattern(errStr string) bool {
	for _, pattern := range transportErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
