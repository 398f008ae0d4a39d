package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrAlreadyExists is returned when inserting a product whose id is already taken.
	ErrAlreadyExists = errors.New("product already exists")
	// ErrVersionConflict is returned when the expected version no longer matches the stored one.
	ErrVersionConflict = errors.New("version conflict")
	// ErrTerminalState is returned when mutating a product that has been deleted.
	ErrTerminalState = errors.New("product is in a terminal state")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrStorage wraps transient storage faults; the whole operation is safe to retry.
	ErrStorage = errors.New("storage error")
	// ErrDuplicateRequest is returned when an idempotency key was recorded by a concurrent request.
	ErrDuplicateRequest = errors.New("duplicate request key")
	// ErrIdempotencyKeyReused is returned when a key is replayed with a different request body.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")
	// ErrUnsupportedSchema is matched by every *UnsupportedSchemaError.
	ErrUnsupportedSchema = errors.New("unsupported envelope schema version")
	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("envelope decode failed")
	// ErrPublish is returned by broker adapters when a message was not acknowledged.
	ErrPublish = errors.New("publish failed")
	// ErrBrokerUnavailable is returned when the broker circuit is open.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// Violation describes one rejected input field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in a request, not just the first.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}

	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrValidation) match.
func (*ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add appends a violation.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// OrNil returns nil when no violations were collected.
func (e *ValidationError) OrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}

	return e
}

// UnsupportedSchemaError is returned when decoding an envelope with an unknown schema version.
type UnsupportedSchemaError struct {
	Version int
}

func (e *UnsupportedSchemaError) Error() string {
	return fmt.Sprintf("unsupported envelope schema version %d", e.Version)
}

// Is makes errors.Is(err, ErrUnsupportedSchema) match.
func (*UnsupportedSchemaError) Is(target error) bool {
	return target == ErrUnsupportedSchema
}

// DecodeError is returned when envelope bytes are malformed.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}

	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) match.
func (*DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// StorageError wraps err so that errors.Is(err, ErrStorage) holds.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
