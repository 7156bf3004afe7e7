package models

import "fmt"

// ValidationError reports malformed input: empty content, a metadata map
// that cannot be serialized, or an embedding of the wrong shape. It is never
// retried and is raised before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// EmbeddingError covers every failure mode of the embedding provider:
// unreachable endpoint, non-2xx response, malformed body, empty vector.
// The original cause is retained for diagnostics. Callers may retry with
// backoff; the client itself never retries.
type EmbeddingError struct {
	Message string
	Cause   error
}

func (e *EmbeddingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("embedding failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("embedding failed: %s", e.Message)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

// NewEmbeddingError wraps a provider failure.
func NewEmbeddingError(message string, cause error) *EmbeddingError {
	return &EmbeddingError{Message: message, Cause: cause}
}

// StoreError covers connectivity, authorization and schema failures of the
// vector store. Same retry policy as EmbeddingError.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vector store %s failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("vector store %s failed", e.Op)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// NewStoreError wraps a store failure for the given operation.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{Op: op, Cause: cause}
}

// NotFoundError reports a delete or lookup of a missing passage ID. It is
// reported to the caller but is never fatal.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("passage %s not found", e.ID)
}
