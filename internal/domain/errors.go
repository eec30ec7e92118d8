package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrQueueFull       = errors.New("queue full")
	ErrNoAccount       = errors.New("no account available")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")
)

// WrapInvalid wraps a message with ErrInvalidArgument for errors.Is checks.
func WrapInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

// RemoteErrorCode is the closed classification of remote video-API failures.
// The HTTP adapter maps raw error strings into this enum so the pipeline
// dispatches on tagged values, never on substrings.
type RemoteErrorCode string

// Remote failure classes. Each has a distinct retry policy in the generator.
const (
	RemoteHeavyLoad     RemoteErrorCode = "heavy_load"
	RemoteTooManyTasks  RemoteErrorCode = "too_many_concurrent_tasks"
	RemotePhoneRequired RemoteErrorCode = "phone_number_required"
	RemoteNoCredits     RemoteErrorCode = "no_credits"
	RemoteUnauthorized  RemoteErrorCode = "unauthorized"
	RemoteTransient     RemoteErrorCode = "transient"
)

// RemoteError carries a classified remote failure across the port boundary.
type RemoteError struct {
	Code RemoteErrorCode
	Msg  string
}

func (e *RemoteError) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// AsRemoteError unwraps err into a *RemoteError, defaulting to a transient
// classification for unrecognized errors so callers always get a policy.
func AsRemoteError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{Code: RemoteTransient, Msg: err.Error()}
}
