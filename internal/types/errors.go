package types

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError collects every violation found in an input rather than
// failing on the first one.
type ValidationError struct {
	Violations map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Violations: make(map[string]string)}
}

// Add records a violation for a field. Later violations for the same field
// overwrite earlier ones.
func (e *ValidationError) Add(field, message string) {
	e.Violations[field] = message
}

// HasViolations reports whether any violations were recorded.
func (e *ValidationError) HasViolations() bool {
	return len(e.Violations) > 0
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Violations[f]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NotFoundError is returned when a referenced fund, investor, obligation or
// payment does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// DuplicateError is returned on re-issuance of an existing quarter's drawdown
// or on a duplicate payment.
type DuplicateError struct {
	Resource string
	Detail   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Resource, e.Detail)
}

// ConflictError is returned on an attempted status regression or when an
// operation is requested in a state that cannot accept it.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Detail
}

// DependencyError wraps a document rendering or storage failure. It is
// recorded on the affected entity as a sub-state and never rolls back
// financial state that already succeeded.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency failure in %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}
