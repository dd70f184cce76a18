package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValidationErrors collects the failed rules of one entity by field name
type ValidationErrors struct {
	Entity string              `json:"entity"`
	Fields map[string][]string `json:"fields"`
}

// NewValidationErrors creates an empty error set for an entity
func NewValidationErrors(entity string) *ValidationErrors {
	return &ValidationErrors{
		Entity: entity,
		Fields: make(map[string][]string),
	}
}

// Add records a failed rule for a field
func (ve *ValidationErrors) Add(field, message string) {
	if ve.Fields == nil {
		ve.Fields = make(map[string][]string)
	}
	ve.Fields[field] = append(ve.Fields[field], message)
}

// HasErrors returns true if any rule failed
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Fields) > 0
}

// Count returns the number of failed rules across all fields
func (ve *ValidationErrors) Count() int {
	count := 0
	for _, messages := range ve.Fields {
		count += len(messages)
	}
	return count
}

// FieldErrors flattens the failures, ordered by field name
func (ve *ValidationErrors) FieldErrors() []FieldError {
	names := make([]string, 0, len(ve.Fields))
	for name := range ve.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []FieldError
	for _, name := range names {
		for _, msg := range ve.Fields[name] {
			out = append(out, FieldError{Field: name, Message: msg})
		}
	}
	return out
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	fields := ve.FieldErrors()
	prefix := "validation failed"
	if ve.Entity != "" {
		prefix = ve.Entity + " " + prefix
	}
	switch len(fields) {
	case 0:
		return prefix
	case 1:
		return fmt.Sprintf("%s: %s", prefix, fields[0])
	}
	lines := make([]string, len(fields))
	for i, fe := range fields {
		lines[i] = "  - " + fe.Error()
	}
	return fmt.Sprintf("%s:\n%s", prefix, strings.Join(lines, "\n"))
}

// MarshalJSON implements json.Marshaler
func (ve *ValidationErrors) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error  string              `json:"error"`
		Entity string              `json:"entity,omitempty"`
		Fields map[string][]string `json:"fields"`
	}{
		Error:  "validation_failed",
		Entity: ve.Entity,
		Fields: ve.Fields,
	})
}

// FieldError is one failed rule on one field
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (fe FieldError) Error() string {
	return fmt.Sprintf("%s: %s", fe.Field, fe.Message)
}
