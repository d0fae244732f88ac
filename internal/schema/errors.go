package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchema matches every *SchemaError with errors.Is.
var ErrSchema = errors.New("schema validation failed")

// Kind classifies a violation. Values are stable and used as metric labels.
type Kind string

const (
	KindMissingField    Kind = "missing_field"
	KindTypeMismatch    Kind = "type_mismatch"
	KindUnexpectedField Kind = "unexpected_field"
	KindAliasConflict   Kind = "alias_conflict"
	KindAvailableTypes  Kind = "available_types"
	KindInvalidValue    Kind = "invalid_value"
	KindMalformedJSON   Kind = "malformed_json"
)

// Violation is one reason a payload was rejected. Path is dotted with array indexes
// (data.stations.3.capacity); the empty path is the payload root.
type Violation struct {
	Kind     Kind   `json:"kind"`
	Path     string `json:"path"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	path := v.Path
	if path == "" {
		path = "(root)"
	}
	s := fmt.Sprintf("%s: %s [%s]", path, v.Message, v.Kind)
	if v.Expected != "" || v.Actual != "" {
		s += fmt.Sprintf(" (expected %s, got %s)", v.Expected, v.Actual)
	}
	return s
}

// maxListed bounds how many violations Error() spells out.
const maxListed = 10

// SchemaError reports every violation found in one payload.
type SchemaError struct {
	Schema     string      `json:"schema"`
	Violations []Violation `json:"violations"`
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d violation(s)", e.Schema, len(e.Violations))
	for i, v := range e.Violations {
		if i == maxListed {
			fmt.Fprintf(&b, "; and %d more", len(e.Violations)-maxListed)
			break
		}
		b.WriteString("; ")
		b.WriteString(v.String())
	}
	return b.String()
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// Has reports whether any violation is of the given kind.
func (e *SchemaError) Has(kind Kind) bool {
	for _, v := range e.Violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// CountByKind returns the number of violations per kind.
func (e *SchemaError) CountByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, v := range e.Violations {
		out[v.Kind]++
	}
	return out
}
