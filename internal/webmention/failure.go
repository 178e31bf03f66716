package webmention

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason classifies how a task ended.
type Reason string

// Failure reasons. SourceDeleted and Success are not failures but share the
// type so task records and callbacks carry one vocabulary.
const (
	ReasonSuccess           Reason = "success"
	ReasonSourceDeleted     Reason = "source_deleted"
	ReasonMissingParameter  Reason = "missing_parameter"
	ReasonInvalidParameter  Reason = "invalid_parameter"
	ReasonTargetNotFound    Reason = "target_not_found"
	ReasonSourceUnreachable Reason = "source_unreachable"
	ReasonSourceTooLarge    Reason = "source_too_large"
	ReasonNoLinkToTarget    Reason = "no_link_to_target"
	ReasonNoEntryFound      Reason = "no_entry_found"
	ReasonUnexpected        Reason = "unexpected_failure"
	// ReasonReceiverBusy marks a task refused before it reached the queue.
	ReasonReceiverBusy Reason = "receiver_busy"
)

// Status maps a reason to the status reported to callbacks.
func (r Reason) Status() int {
	switch r {
	case ReasonSuccess, ReasonSourceDeleted:
		return http.StatusOK
	case ReasonReceiverBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// Failure is the typed rejection a pipeline stage returns.
type Failure struct {
	Reason Reason
	Detail string
	Err    error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Reason, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Reject builds a Failure with a formatted detail message.
func Reject(reason Reason, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// RejectWith builds a Failure wrapping a cause.
func RejectWith(reason Reason, err error, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Detail: fmt.Sprintf(format, args...), Err: err}
}

// AsFailure returns err as a *Failure, classifying unknown errors as unexpected.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Reason: ReasonUnexpected, Detail: "exception while processing webmention", Err: err}
}
