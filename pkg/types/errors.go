package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure by who has to act on it.
type ErrorKind string

const (
	// KindEnvironment is a missing local toolchain, daemon or binary. The operator fixes it.
	KindEnvironment ErrorKind = "EnvironmentError"

	// KindAuth is a registry or secret-store authentication failure.
	KindAuth ErrorKind = "AuthError"

	// KindTransient is an interrupted push or query. Safe to retry.
	KindTransient ErrorKind = "TransientNetworkError"

	// KindValidation is a malformed request caught before any external call.
	KindValidation ErrorKind = "ValidationError"

	// KindRejected is the target platform refusing the submitted spec.
	KindRejected ErrorKind = "RuntimeRejection"

	// KindBuild is a Dockerfile or dependency failure. Needs a source fix.
	KindBuild ErrorKind = "BuildError"

	// KindUnknown is anything not classified above.
	KindUnknown ErrorKind = "UnknownError"
)

// Retryable reports whether the same step may be attempted again without operator action.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// ExitCode maps a kind to the process exit status used by the CLI.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindValidation:
		return 2
	case KindEnvironment:
		return 3
	case KindAuth:
		return 4
	case KindTransient:
		return 5
	case KindRejected:
		return 6
	case KindBuild:
		return 7
	default:
		return 1
	}
}

// Error is a classified failure from one external interaction.
type Error struct {
	// Kind decides retry and exit-code behaviour
	Kind ErrorKind

	// Op names the external operation, e.g. "docker push"
	Op string

	// Diagnostic is the external system's own message, surfaced verbatim
	Diagnostic string

	// Help is an operator-facing remedy
	Help string

	// Err is the underlying cause
	Err error
}

// NewError creates a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates a classified error with a formatted cause.
func Errorf(kind ErrorKind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithDiagnostic attaches the external system's message.
func (e *Error) WithDiagnostic(diagnostic string) *Error {
	e.Diagnostic = strings.TrimSpace(diagnostic)
	return e
}

// WithHelp attaches a remedy hint.
func (e *Error) WithHelp(help string) *Error {
	e.Help = help
	return e
}

// Error returns the error message.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
		parts = append(parts, cause)
	}
	if e.Diagnostic != "" && !strings.Contains(cause, e.Diagnostic) {
		parts = append(parts, e.Diagnostic)
	}
	if len(parts) == 0 {
		return string(e.Kind)
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error with the given message.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Err: errors.New(message)}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	return IsKind(err, KindValidation)
}

// WrapValidationError wraps an error with additional context.
func WrapValidationError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	var e *Error
	if errors.As(err, &e) && e.Kind == KindValidation {
		return &Error{Kind: KindValidation, Op: e.Op, Err: fmt.Errorf("%s: %w", message, e.Err)}
	}
	return &Error{Kind: KindValidation, Err: fmt.Errorf("%s: %w", message, err)}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err may be retried without operator action.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// HelpOf returns the first remedy hint found in the chain.
func HelpOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Help != "" {
			return e.Help
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// StepError names the workflow step that failed.
type StepError struct {
	Step string
	Err  error
}

// Error returns the error message.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Kind returns the classification of the underlying cause.
func (e *StepError) Kind() ErrorKind {
	return KindOf(e.Err)
}
