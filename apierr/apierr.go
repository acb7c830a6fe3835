// Package apierr defines the error taxonomy for backend and storage failures.
//
// Every network or storage failure crossing the session-module boundary is
// mapped onto one of these sentinels so callers can branch with errors.Is
// without ever touching raw transport errors.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors, one per failure category.
var (
	ErrValidation     = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("permission denied")
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("too many requests")
	ErrServer         = errors.New("server error")
	ErrTransport      = errors.New("network unreachable")
	ErrOffline        = errors.New("no internet connection")
	ErrSessionExpired = errors.New("session expired")
	ErrStorage        = errors.New("storage unavailable")
)

// Messages shown to users when the server provides none.
const (
	MsgOffline        = "No internet connection"
	MsgTimeout        = "Request timed out. Please check your connection."
	MsgSessionExpired = "Session expired. Please login again."
	MsgForbidden      = "You don't have permission for this action"
	MsgNotFound       = "Resource not found"
	MsgRateLimited    = "Too many requests. Please try again later."
	MsgServer         = "Server error. Please try again later."
	MsgGeneric        = "An unexpected error occurred"
)

// FromStatus maps an HTTP status code and optional server message to a
// categorized error. Returns nil for 2xx codes.
func FromStatus(code int, message string) error {
	if code >= 200 && code < 300 {
		return nil
	}

	var base error
	var fallback string
	switch {
	case code == http.StatusBadRequest:
		base, fallback = ErrValidation, "Invalid request"
	case code == http.StatusUnauthorized:
		base, fallback = ErrUnauthorized, MsgSessionExpired
	case code == http.StatusForbidden:
		base, fallback = ErrForbidden, MsgForbidden
	case code == http.StatusNotFound:
		base, fallback = ErrNotFound, MsgNotFound
	case code == http.StatusTooManyRequests:
		base, fallback = ErrRateLimited, MsgRateLimited
	case code >= 500:
		base, fallback = ErrServer, MsgServer
	default:
		base, fallback = ErrServer, MsgGeneric
	}

	if message == "" {
		message = fallback
	}
	return fmt.Errorf("%w: %s", base, message)
}

// FromTransport maps a failed round-trip to the transport category,
// distinguishing timeouts from other reachability failures.
func FromTransport(err error) error {
	if err == nil {
		return nil
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTransport, MsgTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTransport, MsgTimeout)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// Message extracts the user-facing message from a categorized error.
// Falls back to a generic message for uncategorized errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, sentinel := range []error{
		ErrValidation, ErrUnauthorized, ErrForbidden, ErrNotFound,
		ErrRateLimited, ErrServer, ErrTransport, ErrOffline,
		ErrSessionExpired, ErrStorage,
	} {
		if errors.Is(err, sentinel) {
			// The wrapped form is "<sentinel>: <message>"; strip the prefix.
			full := err.Error()
			prefix := sentinel.Error() + ": "
			if len(full) > len(prefix) && full[:len(prefix)] == prefix {
				return full[len(prefix):]
			}
			return full
		}
	}
	return MsgGeneric
}

// Temporary reports whether the error category is worth retrying later
// (transport and 5xx failures). Auth and validation failures are not.
func Temporary(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServer)
}
