package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Kind identifies the failure class derived from the sentinel markers above.
type Kind string

const (
	KindExternalTool  Kind = "external_tool"
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
	KindTimeout       Kind = "timeout"
	KindTransient     Kind = "transient"
)

// ErrorDetails carries the structured pieces of a wrapped stage error.
type ErrorDetails struct {
	Kind      Kind
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return &wrappedError{marker: marker, stage: stage, operation: operation, message: message, detail: detail, cause: err}
	}
	return &wrappedError{marker: marker, stage: stage, operation: operation, message: message, detail: detail}
}

type wrappedError struct {
	marker    error
	stage     string
	operation string
	message   string
	detail    string
	cause     error
}

func (w *wrappedError) Error() string {
	if w.cause != nil {
		return fmt.Sprintf("%s: %s: %s", w.marker.Error(), w.detail, w.cause.Error())
	}
	return fmt.Sprintf("%s: %s", w.marker.Error(), w.detail)
}

func (w *wrappedError) Unwrap() []error {
	if w.cause != nil {
		return []error{w.marker, w.cause}
	}
	return []error{w.marker}
}

// ClassifyKind maps an error to its failure kind. Unwrapped errors are transient.
func ClassifyKind(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindTransient
	}
}

// IsNonRetryable reports whether the failure class should never be retried.
// Validation and configuration faults cannot succeed on a later attempt.
func IsNonRetryable(err error) bool {
	kind := ClassifyKind(err)
	return kind == KindValidation || kind == KindConfiguration
}

// Details extracts structured error information from a wrapped stage error.
// Plain errors yield a transient detail with the error text as message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindTransient}
	}
	var wrapped *wrappedError
	if errors.As(err, &wrapped) {
		return ErrorDetails{
			Kind:      ClassifyKind(err),
			Stage:     wrapped.stage,
			Operation: wrapped.operation,
			Message:   wrapped.message,
			Cause:     wrapped.cause,
		}
	}
	return ErrorDetails{
		Kind:    ClassifyKind(err),
		Message: strings.TrimSpace(err.Error()),
		Cause:   err,
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
