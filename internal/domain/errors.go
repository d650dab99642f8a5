package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateKey       = errors.New("conflict: unique key already exists")
	ErrNoEligibleItem     = errors.New("no eligible queue item")
	ErrLockUnavailable    = errors.New("queue item cannot be locked in its current state")
	ErrLockLost           = errors.New("lock lost: token does not match current owner")
	ErrItemSkipped        = errors.New("queue item was skipped and cannot be processed")
	ErrItemCompleted      = errors.New("queue item is already completed")
	ErrNotReady           = errors.New("destination is not ready")
	ErrContextInactive    = errors.New("context is not active")
	ErrUnknownContentType = errors.New("unknown content type")
	ErrInvalidLanguage    = errors.New("invalid language code")
	ErrInvalidPolicy      = errors.New("invalid content type policy")
	ErrInvalidSnapshot    = errors.New("invalid distribution snapshot")
	ErrInvalidContext     = errors.New("invalid context")
	ErrNoContent          = errors.New("generation produced no content")
)

// ReadinessError is returned by the readiness gate. Permanent failures need
// operator intervention and route the item to skipped; transient ones release
// the lock so a later pass can retry.
type ReadinessError struct {
	Channel   Channel
	Reason    string
	Permanent bool
}

func (e *ReadinessError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("channel %q not ready (%s): %s", e.Channel, kind, e.Reason)
}

func (e *ReadinessError) Is(target error) bool {
	return target == ErrNotReady
}

// PermanentError marks an execution failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the worker bypasses further retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
