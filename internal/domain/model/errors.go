package model

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialExhausted means no usable credential remains after every
	// renewal path. Callers should prompt for an interactive login.
	ErrCredentialExhausted = errors.New("credential exhausted")
	// ErrAuthRequired aborts a job before submission because no credential
	// could be obtained.
	ErrAuthRequired = errors.New("authentication required")
	// ErrAuthExpired means the compute service rejected the credential twice,
	// once after a successful renewal. The stored credential has been purged.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrTimeout means the bounded wait for the compute service elapsed.
	ErrTimeout = errors.New("job timed out")
	// ErrNetwork wraps transport failures.
	ErrNetwork = errors.New("network error")
	// ErrInvalidRequest rejects malformed job or refund input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientCredits is the optimistic local balance precheck failure.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrJobNotFound is returned when a job id is unknown locally.
	ErrJobNotFound = errors.New("job not found")
	// ErrResultUnusable means a succeeded job's result could not be loaded or
	// decoded. The job's cost is refunded when this is reported.
	ErrResultUnusable = errors.New("result unusable")
)

// ServiceError is a business failure reported by a remote service.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service error (status %d)", e.Status)
	}
	return fmt.Sprintf("service error (status %d): %s", e.Status, e.Message)
}

// ErrorKind is the user-facing classification of a failure.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindCredentialExhausted ErrorKind = "credential_exhausted"
	KindAuthExpired         ErrorKind = "auth_expired"
	KindTimeout             ErrorKind = "timeout"
	KindNetwork             ErrorKind = "network"
	KindService             ErrorKind = "service"
	KindInvalid             ErrorKind = "invalid"
	KindUnknown             ErrorKind = "unknown"
)

// Kind classifies err for presentation. Only KindAuthExpired and
// KindCredentialExhausted require a new login.
func Kind(err error) ErrorKind {
	var svcErr *ServiceError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, ErrCredentialExhausted), errors.Is(err, ErrAuthRequired):
		return KindCredentialExhausted
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.As(err, &svcErr), errors.Is(err, ErrResultUnusable):
		return KindService
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInsufficientCredits):
		return KindInvalid
	default:
		return KindUnknown
	}
}

// RequiresLogin reports whether err should send the user to a login prompt.
func RequiresLogin(err error) bool {
	k := Kind(err)
	return k == KindAuthExpired || k == KindCredentialExhausted
}
