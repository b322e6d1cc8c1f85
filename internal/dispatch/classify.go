package dispatch

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind buckets a push delivery failure.
type ErrorKind string

const (
	KindDeviceNotRegistered ErrorKind = "DeviceNotRegistered"
	KindInvalidToken        ErrorKind = "InvalidToken"
	KindPayloadTooLarge     ErrorKind = "PayloadTooLarge"
	KindRateLimited         ErrorKind = "RateLimited"
	KindNetworkError        ErrorKind = "NetworkError"
	KindUnknown             ErrorKind = "Unknown"
)

// PushError is the provider-agnostic classification of a dispatch failure.
// It is derived from the provider's error text and status on every failure,
// never stored as primary data.
type PushError struct {
	Kind         ErrorKind
	Message      string
	Permanent    bool
	CleanupToken bool
}

func (e *PushError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Classify maps a provider error message and HTTP status into the shared
// taxonomy. Anything unrecognized is Unknown and treated as transient: a
// retry may not help, but claiming certainty about the cause would be worse.
func Classify(message string, httpStatus int) *PushError {
	lower := strings.ToLower(message)

	switch {
	case containsAny(lower, "devicenotregistered", "not registered", "unregistered"):
		return &PushError{Kind: KindDeviceNotRegistered, Message: message, Permanent: true, CleanupToken: true}

	case containsAny(lower, "invalid push token", "invalid token", "invalid registration", "pushtokeninvalid"):
		return &PushError{Kind: KindInvalidToken, Message: message, Permanent: true, CleanupToken: true}

	case httpStatus == http.StatusRequestEntityTooLarge,
		containsAny(lower, "messagetoobig", "message too big", "payload too large", "too large"):
		// The payload is the caller's bug, not the token's.
		return &PushError{Kind: KindPayloadTooLarge, Message: message, Permanent: true}

	case httpStatus == http.StatusTooManyRequests,
		containsAny(lower, "messageratexceeded", "rate limit", "too many requests"):
		return &PushError{Kind: KindRateLimited, Message: message}

	case httpStatus >= http.StatusInternalServerError,
		containsAny(lower, "timeout", "timed out", "connection refused", "connection reset", "no such host", "network", "unexpected eof", "temporary failure"):
		return &PushError{Kind: KindNetworkError, Message: message}
	}

	return &PushError{Kind: KindUnknown, Message: message}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
