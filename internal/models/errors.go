package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures for status reporting. Encoder
// output is never exposed to callers, only a kind plus a short message.
type ErrorKind string

const (
	// Input validation failures. Retrying without different input is futile.
	KindUnreadableMedia   ErrorKind = "UnreadableMedia"
	KindUnsupportedFormat ErrorKind = "UnsupportedFormat"

	// Per-tier failures. A sibling tier may still succeed, and a retry of
	// the whole job may clear them.
	KindEncodeFailure    ErrorKind = "EncodeFailure"
	KindTimeout          ErrorKind = "Timeout"
	KindOutputIncomplete ErrorKind = "OutputIncomplete"

	// Job-level failures.
	KindNoRenditionsAvailable ErrorKind = "NoRenditionsAvailable"
	KindCancelled             ErrorKind = "Cancelled"

	// Admission-time failures, surfaced synchronously to the enqueue caller
	// and never recorded as a job.
	KindQueueSaturated      ErrorKind = "QueueSaturated"
	KindMaxAttemptsExceeded ErrorKind = "MaxAttemptsExceeded"
)

// ErrInvalidArgument marks requests rejected by input validation, such as a
// missing video id or an unknown tier name. API adapters map it to a 400
// response.
var ErrInvalidArgument = errors.New("invalid argument")

// PipelineError is a classified pipeline failure.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewError builds a classified error wrapping an optional cause.
func NewError(kind ErrorKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from err, or an empty kind when err does
// not carry one.
func KindOf(err error) ErrorKind {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
