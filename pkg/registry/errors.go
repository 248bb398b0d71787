package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaUnavailable marks a schema that could not be fetched or compiled.
	ErrSchemaUnavailable = errors.New("schema unavailable")
	// ErrNotFound is returned by stores when a file does not exist yet.
	ErrNotFound = errors.New("not found")
	// ErrRevisionConflict is returned when a conditioned write used a stale revision.
	ErrRevisionConflict = errors.New("revision conflict")
	// ErrRemoteUnavailable wraps network, transport and host-side auth failures.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrUnauthenticated is returned for writes attempted without a session token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnknownRegistry is returned for names outside the fixed registry set.
	ErrUnknownRegistry = errors.New("unknown registry")
	// ErrNotReady is returned when a save is attempted before schema and data loads resolved.
	ErrNotReady = errors.New("registry session not ready")
	// ErrSaveInProgress is returned when a save is attempted while another is pending.
	ErrSaveInProgress = errors.New("save already in progress")
)

// SchemaUnavailableError carries the registry and the underlying cause.
type SchemaUnavailableError struct {
	Registry Name
	Err      error
}

func (e *SchemaUnavailableError) Error() string {
	return fmt.Sprintf("schema for %s unavailable: %v", e.Registry, e.Err)
}

func (e *SchemaUnavailableError) Unwrap() error { return e.Err }

// Is matches ErrSchemaUnavailable.
func (e *SchemaUnavailableError) Is(target error) bool { return target == ErrSchemaUnavailable }

// FieldError describes one failing field.
type FieldError struct {
	Field  string `json:"field"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Field error codes.
const (
	CodeRequired  = "required"
	CodeType      = "type"
	CodeEnum      = "enum"
	CodePattern   = "pattern"
	CodeMinLength = "min_length"
	CodeMaxLength = "max_length"
	CodeMinimum   = "minimum"
	CodeMaximum   = "maximum"
	CodeFormat    = "format"
	CodeUnknown   = "unknown_field"
)

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// SchemaValidationError lists every field that failed structural validation.
type SchemaValidationError struct {
	Registry Name
	Fields   []FieldError
}

func (e *SchemaValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	if len(e.Fields) == 1 {
		return e.Fields[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:", len(e.Fields))
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "\n  - %s", f.Error())
	}
	return b.String()
}

// Add appends a field failure.
func (e *SchemaValidationError) Add(field, code, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code, Reason: reason})
}

// Has reports whether field failed with any code.
func (e *SchemaValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// ToError returns nil when no field failed.
func (e *SchemaValidationError) ToError() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ReferentialIntegrityError reports a foreign key value with no matching target.
type ReferentialIntegrityError struct {
	Field  string
	Value  string
	Target Name
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("%s %q not found in %s", e.Field, e.Value, e.Target)
}

// DuplicateIdentifierError reports a create whose identifier already exists.
type DuplicateIdentifierError struct {
	Field string
	Value string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("item with %s %q already exists", e.Field, e.Value)
}

// IsRetryable reports whether err should be handled by reloading and retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRevisionConflict)
}
