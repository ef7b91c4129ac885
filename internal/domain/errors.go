package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrTemplateNotFound = errors.New("template not found")
	ErrNoRecipient      = errors.New("recipient has no deliverable address")
)

// ValidationError reports a bad input value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DeliveryError is returned by channel senders. Permanent errors are never retried.
type DeliveryError struct {
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s delivery error: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a non-retryable delivery error
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Permanent: true, Err: err}
}

// Transient wraps err as a retryable delivery error
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Err: err}
}

// IsPermanent reports whether err must not be retried.
// Unclassified errors count as transient.
func IsPermanent(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Permanent
	}
	return false
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
