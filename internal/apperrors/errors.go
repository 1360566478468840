/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apperrors defines the error taxonomy of a job execution.
// Only template and submission errors change the outcome of a task; the
// other kinds are contained by the component that raised them.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrTemplate   = errors.New("template error")
	ErrSubmission = errors.New("submission error")
	ErrWatch      = errors.New("watch error")
	ErrLogRelay   = errors.New("log relay error")
	ErrCleanup    = errors.New("cleanup error")
)

// Reason refines a submission failure.
type Reason string

const (
	ReasonUnauthorized  Reason = "Unauthorized"
	ReasonQuotaExceeded Reason = "QuotaExceeded"
	ReasonInvalid       Reason = "Invalid"
	ReasonConflict      Reason = "Conflict"
	ReasonUnavailable   Reason = "Unavailable"
)

// Error is a classified failure of one component.
type Error struct {
	Kind    error  // One of the sentinels above
	Op      string // Operation that failed (e.g., "manifest.render")
	Reason  Reason // Set for submission errors
	Message string
	Cause   error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Template creates a template error.
func Template(op, message string, cause error) error {
	return &Error{Kind: ErrTemplate, Op: op, Message: message, Cause: cause}
}

// Submission creates a submission error with a failure reason.
func Submission(op string, reason Reason, message string, cause error) error {
	return &Error{Kind: ErrSubmission, Op: op, Reason: reason, Message: message, Cause: cause}
}

// Watch creates a watch error.
func Watch(op string, cause error) error {
	return &Error{Kind: ErrWatch, Op: op, Cause: cause}
}

// LogRelay creates a log relay error.
func LogRelay(op string, cause error) error {
	return &Error{Kind: ErrLogRelay, Op: op, Cause: cause}
}

// Cleanup creates a cleanup error.
func Cleanup(op string, cause error) error {
	return &Error{Kind: ErrCleanup, Op: op, Cause: cause}
}

// IsTemplate reports whether err is a template error.
func IsTemplate(err error) bool { return errors.Is(err, ErrTemplate) }

// IsSubmission reports whether err is a submission error.
func IsSubmission(err error) bool { return errors.Is(err, ErrSubmission) }

// ReasonOf returns the submission reason carried by err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
