// Package gatewayerrors contains generic errors that should be returned by code handling gateway requests.
// The HTTP layer looks for the error types defined in this file and sets the response status accordingly.
//
// If multiple errors occur in some function (e.g., several schema violations), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package gatewayerrors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "newQuota"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// ErrValidation is returned when a request does not conform to its schema or to one of the
// rules applied on top of the schema. Check names the sub-check that failed, e.g., "core schema"
// or "time alignment", and Field is set when a single field is at fault.
type ErrValidation struct {
	Check   string
	Field   string
	Message string
}

func (err *ErrValidation) Error() string {
	if err.Field != "" {
		return fmt.Sprintf("%s check failed for field %q: %s", err.Check, err.Field, err.Message)
	}
	return fmt.Sprintf("%s check failed: %s", err.Check, err.Message)
}

// ErrMissingCredentials is returned when a request carries no token at all.
type ErrMissingCredentials struct{}

func (err *ErrMissingCredentials) Error() string {
	return "no access token provided"
}

// ErrInvalidCredentials is returned when a token does not belong to any user.
type ErrInvalidCredentials struct{}

func (err *ErrInvalidCredentials) Error() string {
	return "the access token is not valid"
}

// ErrInsufficientRights is returned when the access level granted to a user for an algorithm
// is lower than the access level requested.
type ErrInsufficientRights struct {
	Principal string
	Algorithm string
	Granted   string
	Requested string
}

func (err *ErrInsufficientRights) Error() string {
	return fmt.Sprintf(
		"%s is granted access level %s for algorithm %s but requested %s",
		err.Principal, err.Granted, err.Algorithm, err.Requested,
	)
}

// ErrNoPermission represents an error that occurs when a client tries to perform some action
// for which it does not have permissions.
type ErrNoPermission struct {
	// Principal that attempted the action
	Principal string
	// The attempted action
	Action string
	// Optional message included with the error message
	Message string
}

func (err *ErrNoPermission) Error() (s string) {
	s = fmt.Sprintf("%s is not allowed to %s", err.Principal, err.Action)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrQuotaExhausted is returned when a user has no quota left. Quota is returned one unit at a
// time as debits age past the refresh window.
type ErrQuotaExhausted struct {
	Principal string
}

func (err *ErrQuotaExhausted) Error() string {
	return fmt.Sprintf("%s has no quota left; wait for it to be refreshed", err.Principal)
}

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "user"
	Value   string // Resource name, e.g., "Bob"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrPreconditionFailed is returned when a state transition is attempted from a state that
// does not allow it.
type ErrPreconditionFailed struct {
	Message string
}

func (err *ErrPreconditionFailed) Error() string {
	return err.Message
}

// ErrBackendDown is returned when one or more of the required downstream service types has not
// reported a heartbeat recently enough.
type ErrBackendDown struct {
	MissingServiceTypes []string
}

func (err *ErrBackendDown) Error() string {
	return fmt.Sprintf("the compute cluster is not available; no recent heartbeat from %v", err.MissingServiceTypes)
}

// ErrCacheUnavailable is returned when the result cache could not be contacted or returned
// something that could not be understood. It is never equivalent to a cache miss.
type ErrCacheUnavailable struct {
	Timeout bool
	Cause   error
}

func (err *ErrCacheUnavailable) Error() string {
	if err.Timeout {
		return fmt.Sprintf("the cache could not be contacted: timed out: %v", err.Cause)
	}
	return fmt.Sprintf("the cache could not be contacted: %v", err.Cause)
}

func (err *ErrCacheUnavailable) Unwrap() error {
	return err.Cause
}

// ErrAlgorithmServiceUnavailable is returned when the algorithm service could not be contacted.
// It is distinct from an algorithm not being advertised.
type ErrAlgorithmServiceUnavailable struct {
	Timeout bool
	Cause   error
}

func (err *ErrAlgorithmServiceUnavailable) Error() string {
	if err.Timeout {
		return fmt.Sprintf("the algorithm service could not be contacted: timed out: %v", err.Cause)
	}
	return fmt.Sprintf("the algorithm service could not be contacted: %v", err.Cause)
}

func (err *ErrAlgorithmServiceUnavailable) Unwrap() error {
	return err.Cause
}

// ErrPersistence wraps a datastore failure. JobId is set when a job was written but a follow-up
// step failed, so that the caller can still find it.
type ErrPersistence struct {
	Message string
	JobId   string
	Cause   error
}

func (err *ErrPersistence) Error() (s string) {
	s = err.Message
	if err.JobId != "" {
		s = s + fmt.Sprintf(" (job %s)", err.JobId)
	}
	if err.Cause != nil {
		s = s + fmt.Sprintf(": %v", err.Cause)
	}
	return
}

func (err *ErrPersistence) Unwrap() error {
	return err.Cause
}

// HTTPStatusFromError maps error types to HTTP status codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return http.StatusBadRequest
		}
	}
	{
		var e *ErrValidation
		if errors.As(err, &e) {
			return http.StatusBadRequest
		}
	}
	{
		var e *ErrMissingCredentials
		if errors.As(err, &e) {
			return http.StatusUnauthorized
		}
	}
	{
		var e *ErrInvalidCredentials
		if errors.As(err, &e) {
			return http.StatusUnauthorized
		}
	}
	{
		var e *ErrInsufficientRights
		if errors.As(err, &e) {
			return http.StatusUnauthorized
		}
	}
	{
		var e *ErrNoPermission
		if errors.As(err, &e) {
			return http.StatusForbidden
		}
	}
	{
		var e *ErrQuotaExhausted
		if errors.As(err, &e) {
			return http.StatusTooManyRequests
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return http.StatusNotFound
		}
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}
	{
		var e *ErrPreconditionFailed
		if errors.As(err, &e) {
			return http.StatusPreconditionFailed
		}
	}
	{
		var e *ErrBackendDown
		if errors.As(err, &e) {
			return http.StatusServiceUnavailable
		}
	}
	{
		var e *ErrCacheUnavailable
		if errors.As(err, &e) {
			return http.StatusServiceUnavailable
		}
	}
	{
		var e *ErrAlgorithmServiceUnavailable
		if errors.As(err, &e) {
			return http.StatusServiceUnavailable
		}
	}

	return http.StatusInternalServerError
}

// MessageFromError returns the message of the cause of an error chain,
// which is what is shown to clients. The full chain is only logged.
func MessageFromError(err error) string {
	if err == nil {
		return ""
	}
	return errors.Cause(err).Error()
}
