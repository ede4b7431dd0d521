package errors

import (
	goErrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return goErrors.New(msg)
}

// Errorf formats an error message.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goErrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goErrors.As(err, target)
}

type withContext struct {
	context string
	err     error
}

func (err withContext) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err withContext) Unwrap() error {
	return err.err
}

// WithContext annotates `err` with a short description of the operation that
// failed. The original error can be recovered with RootCause.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return withContext{context, err}
}

// RootCause returns the error that was originally wrapped by WithContext.
func RootCause(err error) error {
	for {
		wrapped, ok := err.(withContext)
		if !ok {
			return err
		}
		err = wrapped.err
	}
}

// FriendlyError is an error whose message is meant to be read by users
// rather than developers.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	msg string
}

func (err friendlyError) Error() string {
	return err.msg
}

func (err friendlyError) FriendlyMessage() string {
	return err.msg
}

// NewFriendlyError creates an error whose message is shown to the user
// verbatim.
func NewFriendlyError(template string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(template, args...)}
}

// GetPrintableMessage returns the message that should be shown to the user
// for `err`. Friendly errors anywhere in the context chain take precedence
// over the raw chain.
func GetPrintableMessage(err error) string {
	var friendly FriendlyError
	if goErrors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
