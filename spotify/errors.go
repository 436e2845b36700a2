package spotify

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures the orchestration layer branches on,
// so no caller ever inspects transport shapes or response bodies.
type ErrorKind int

const (
	// KindOther covers transport failures and unclassified statuses.
	KindOther ErrorKind = iota
	// KindAuthExpired is an expired or revoked access token (401).
	KindAuthExpired
	// KindForbidden is a rejected capability, e.g. no premium account (403).
	KindForbidden
	// KindNoActiveDevice means no playback device is active (404).
	KindNoActiveDevice
	// KindInvalid is a malformed or unknown track (400).
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindForbidden:
		return "forbidden"
	case KindNoActiveDevice:
		return "no_active_device"
	case KindInvalid:
		return "invalid"
	default:
		return "other"
	}
}

// APIError is a non-2xx response from the Spotify Web API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify api: status %d: %s", e.Status, e.Message)
}

// Kind maps the HTTP status to the engine-facing taxonomy.
func (e *APIError) Kind() ErrorKind {
	switch e.Status {
	case http.StatusUnauthorized:
		return KindAuthExpired
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNoActiveDevice
	case http.StatusBadRequest:
		return KindInvalid
	default:
		return KindOther
	}
}

// KindOf classifies any error returned by this package.
func KindOf(err error) ErrorKind {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind()
	}
	return KindOther
}

// IsAuthError reports whether err is an expired-credential failure, the one
// class the token lifecycle manager recovers from.
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuthExpired
}
