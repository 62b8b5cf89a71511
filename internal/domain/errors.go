package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyCart is returned when checkout starts without items.
var ErrEmptyCart = errors.New("cart is empty, nothing to checkout")

// ValidationError covers malformed customer input and request bodies.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError is a typed miss for tenants, conversations and orders.
type NotFoundError struct {
	Resource string
	Key      string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func NewNotFoundError(resource, key string, err error) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key, Err: err}
}

// ExternalServiceError wraps failures of messaging, payment, geocoding and SMS collaborators.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func NewExternalServiceError(service, op string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Op: op, Err: err}
}

type SignatureVerificationError struct {
	Reason string
}

func (e *SignatureVerificationError) Error() string {
	return "signature verification failed: " + e.Reason
}

// ConfigurationError reports missing or undecryptable credentials.
type ConfigurationError struct {
	TenantID string
	Field    string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.TenantID == "" {
		return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid configuration %s for tenant %s: %v", e.Field, e.TenantID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsExternal(err error) bool {
	var ee *ExternalServiceError
	return errors.As(err, &ee)
}

func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func IsSignature(err error) bool {
	var se *SignatureVerificationError
	return errors.As(err, &se)
}
