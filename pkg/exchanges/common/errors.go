package common

import (
	"context"
	"errors"
	"fmt"
)

// Taxonomy sentinels. Concrete errors wrap or match one of these so callers
// can branch with errors.Is.
var (
	ErrInvalidCredentialFormat   = errors.New("invalid credential format")
	ErrAuthenticationRejected    = errors.New("authentication rejected by venue")
	ErrSignatureExpired          = errors.New("signature expired")
	ErrSignatureRetriesExhausted = errors.New("signature retries exhausted")
	ErrRiskLimitExceeded         = errors.New("risk limit exceeded")
	ErrSessionInactive           = errors.New("session inactive")
	ErrVenue                     = errors.New("network or venue error")
)

// Kind names an error class for logs, events and API responses.
type Kind string

const (
	KindNone                      Kind = ""
	KindInvalidCredentialFormat   Kind = "InvalidCredentialFormat"
	KindAuthenticationRejected    Kind = "AuthenticationRejected"
	KindSignatureExpired          Kind = "SignatureExpired"
	KindSignatureRetriesExhausted Kind = "SignatureRetriesExhausted"
	KindRiskLimitExceeded         Kind = "RiskLimitExceeded"
	KindSessionInactive           Kind = "SessionInactive"
	KindNetworkOrVenue            Kind = "NetworkOrVenueError"
)

// KindOf classifies err. Unknown errors are reported as NetworkOrVenueError.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidCredentialFormat):
		return KindInvalidCredentialFormat
	case errors.Is(err, ErrSessionInactive):
		return KindSessionInactive
	case errors.Is(err, ErrRiskLimitExceeded):
		return KindRiskLimitExceeded
	case errors.Is(err, ErrSignatureRetriesExhausted):
		return KindSignatureRetriesExhausted
	case errors.Is(err, ErrAuthenticationRejected):
		return KindAuthenticationRejected
	case errors.Is(err, ErrSignatureExpired):
		return KindSignatureExpired
	default:
		return KindNetworkOrVenue
	}
}

// Retryable reports whether a dispatcher may re-sign and resend.
func Retryable(err error) bool {
	return errors.Is(err, ErrSignatureExpired) && !errors.Is(err, ErrSignatureRetriesExhausted)
}

// VenueError is a failed venue call: a non-2xx response or a transport failure.
type VenueError struct {
	Method  string
	Path    string
	Status  int    // 0 for transport failures
	Code    string // venue error code, if any
	Message string

	// Timing context reported by the venue on expiry errors (unix seconds, 0 if absent).
	RequestTime int64
	ServerTime  int64

	class error
	err   error
}

// NewVenueError builds a VenueError classified under class
// (one of the taxonomy sentinels). cause may be nil.
func NewVenueError(class error, method, path string, status int, code, msg string, cause error) *VenueError {
	if class == nil {
		class = ErrVenue
	}
	return &VenueError{
		Method:  method,
		Path:    path,
		Status:  status,
		Code:    code,
		Message: msg,
		class:   class,
		err:     cause,
	}
}

func (e *VenueError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("delta %s %s: %s: %v", e.Method, e.Path, e.class, e.err)
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	return fmt.Sprintf("delta %s %s status %d: %s (%s)", e.Method, e.Path, e.Status, msg, e.class)
}

// Is matches the taxonomy class of the error.
func (e *VenueError) Is(target error) bool { return target == e.class }

// Unwrap exposes the transport cause, if any.
func (e *VenueError) Unwrap() error { return e.err }

// Transport reports whether the call failed before any response arrived.
func (e *VenueError) Transport() bool {
	return e.Status == 0 && !errors.Is(e.err, context.Canceled)
}

// RetriesExhaustedError is returned once every signing attempt of a call
// came back as an expired signature.
type RetriesExhaustedError struct {
	Method   string
	Path     string
	Attempts int

	// Clock diagnostics at the time of the final failure.
	OffsetSeconds    int64
	LastDetectedSkew int64

	Last error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("delta %s %s: %s after %d attempts (offset=%ds, last skew=%ds): %v",
		e.Method, e.Path, ErrSignatureRetriesExhausted, e.Attempts, e.OffsetSeconds, e.LastDetectedSkew, e.Last)
}

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrSignatureRetriesExhausted }

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }
