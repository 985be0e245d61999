// Package outcome defines the structured result returned by every dump, restore,
// transfer and probe operation.
package outcome

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// Configuration means a required field is missing or a kind is unsupported.
	Configuration Kind = "configuration"
	// Connectivity covers closed ports, SSH failures and DNS errors.
	Connectivity Kind = "connectivity"
	// ToolExecution is a non-zero exit from a native dump or restore utility.
	ToolExecution Kind = "tool_execution"
	// StorageTransfer is a failure moving an artifact to its destination.
	StorageTransfer Kind = "storage_transfer"
	// MissingDependency means a native client binary is absent.
	MissingDependency Kind = "missing_dependency"
	// Precondition means an input the operation requires does not exist.
	Precondition Kind = "precondition"
	// Scheduling means no next run time could be computed.
	Scheduling Kind = "scheduling"
	// TransientDispatch is a failure before a history record exists.
	TransientDispatch Kind = "transient_dispatch"
	// NotFound means a referenced record does not exist.
	NotFound Kind = "not_found"
	// Internal is anything unclassified.
	Internal Kind = "internal"
)

// Outcome is either a Success or a *Failure.
type Outcome interface {
	// OK reports whether the operation succeeded.
	OK() bool
	// Text returns the human readable message.
	Text() string
	outcome()
}

// Success is the result of a completed operation.
type Success struct {
	Path    string
	Size    int64
	Message string
	// Link is an optional human link for remote destinations.
	Link string
}

func (Success) outcome() {}

// OK always returns true.
func (Success) OK() bool { return true }

// Text returns the success message.
func (s Success) Text() string { return s.Message }

// Failure is the result of a failed operation. It doubles as an error.
type Failure struct {
	Kind    Kind
	Message string
	Err     error
}

func (*Failure) outcome() {}

// OK always returns false.
func (*Failure) OK() bool { return false }

// Text returns the failure message.
func (f *Failure) Text() string { return f.Message }

func (f *Failure) Error() string {
	if f.Err != nil && f.Message == "" {
		return f.Err.Error()
	}
	return f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a failure of the given kind.
func Fail(kind Kind, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a failure of the given kind around err. The message is prefixed when msg is set.
func Wrap(kind Kind, err error, msg string) *Failure {
	if err == nil {
		return nil
	}
	text := err.Error()
	if msg != "" {
		text = msg + ": " + text
	}
	return &Failure{Kind: kind, Message: text, Err: err}
}

// KindOf classifies err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return Internal
}

// FromError converts err into an Outcome, keeping the kind of an existing Failure.
func FromError(err error) Outcome {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: Internal, Message: err.Error(), Err: err}
}

// Permanent reports whether retrying err cannot help.
func Permanent(err error) bool {
	switch KindOf(err) {
	case Configuration, NotFound, Precondition, MissingDependency, Scheduling:
		return true
	}
	return false
}

// Retryable reports whether err may succeed on a later dispatch attempt.
// Only transient dispatch failures and unclassified errors qualify.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case TransientDispatch, Internal:
		return true
	}
	return false
}
