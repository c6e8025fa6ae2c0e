package cell

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes per-cell evaluation failures.
type ErrorType string

const (
	// ErrCircular indicates the cell's reference chain loops back to itself.
	ErrCircular ErrorType = "REF/circular"

	// ErrUnresolved indicates an operand points at a missing, empty, or
	// failed cell.
	ErrUnresolved ErrorType = "REF/unresolved"

	// ErrNotFound indicates the function registry has no implementation
	// for the formula's target.
	ErrNotFound ErrorType = "FUNC/notFound"

	// ErrInvoke indicates evaluation or the function implementation failed.
	ErrInvoke ErrorType = "FUNC/invoke"

	// ErrSyntax indicates the formula text could not be parsed.
	ErrSyntax ErrorType = "FUNC/syntax"
)

// FuncError is attached to a cell when its evaluation fails.
//
// FuncError is recovered locally: it sits alongside the cell's last known
// value and never aborts the rest of a calculation batch.
type FuncError struct {
	// Type identifies the error category.
	Type ErrorType `json:"type"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Cell is the cell the error is attached to.
	Cell Key `json:"cell,omitempty"`

	// Path is the reference chain that produced the error. For circular
	// errors it is the loop, starting and ending at Cell.
	Path []Key `json:"path,omitempty"`
}

// Error implements the error interface.
func (e *FuncError) Error() string {
	if e.Cell != "" {
		return fmt.Sprintf("%s: %s (cell=%s)", e.Type, e.Message, e.Cell)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Clone returns a deep copy.
func (e *FuncError) Clone() *FuncError {
	if e == nil {
		return nil
	}
	out := *e
	if e.Path != nil {
		out.Path = append([]Key(nil), e.Path...)
	}
	return &out
}

// NewCircularError creates a FuncError for a reference cycle.
func NewCircularError(key Key, path []Key) *FuncError {
	return &FuncError{
		Type:    ErrCircular,
		Message: fmt.Sprintf("circular reference: %s", joinPath(path)),
		Cell:    key,
		Path:    path,
	}
}

// NewUnresolvedError creates a FuncError for an operand that cannot be read.
func NewUnresolvedError(key, operand Key, reason string) *FuncError {
	return &FuncError{
		Type:    ErrUnresolved,
		Message: fmt.Sprintf("unresolved reference %s: %s", operand, reason),
		Cell:    key,
		Path:    []Key{key, operand},
	}
}

// NewNotFoundError creates a FuncError for a missing function.
func NewNotFoundError(key Key, namespace, name string) *FuncError {
	return &FuncError{
		Type:    ErrNotFound,
		Message: fmt.Sprintf("function %s.%s not found", namespace, name),
		Cell:    key,
	}
}

// NewInvokeError creates a FuncError wrapping an evaluation failure.
func NewInvokeError(key Key, err error) *FuncError {
	return &FuncError{
		Type:    ErrInvoke,
		Message: err.Error(),
		Cell:    key,
	}
}

// NewSyntaxError creates a FuncError for an unparseable formula.
func NewSyntaxError(key Key, err error) *FuncError {
	return &FuncError{
		Type:    ErrSyntax,
		Message: err.Error(),
		Cell:    key,
	}
}

// IsCircular returns true if err is a circular reference error.
// Uses errors.As to handle wrapped errors.
func IsCircular(err error) bool {
	return hasType(err, ErrCircular)
}

// IsUnresolved returns true if err is an unresolved reference error.
func IsUnresolved(err error) bool {
	return hasType(err, ErrUnresolved)
}

// IsNotFound returns true if err is a missing function error.
func IsNotFound(err error) bool {
	return hasType(err, ErrNotFound)
}

// AsFuncError extracts a FuncError from err, if present.
func AsFuncError(err error) (*FuncError, bool) {
	var fe *FuncError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func hasType(err error, t ErrorType) bool {
	fe, ok := AsFuncError(err)
	return ok && fe.Type == t
}

func joinPath(path []Key) string {
	parts := make([]string, len(path))
	for i, k := range path {
		parts[i] = string(k)
	}
	return strings.Join(parts, " -> ")
}
