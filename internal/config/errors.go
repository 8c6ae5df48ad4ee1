package config

import (
	"fmt"
	"strings"
)

// ValidationError is a single structured configuration problem, identified
// by the dotted field path that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one validation pass so a
// misconfigured document can be fixed in a single round trip instead of one
// field at a time.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) add(field, message string) {
	e.Errors = append(e.Errors, ValidationError{Field: field, Message: message})
}

func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no configuration errors"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%d configuration errors: %s", len(e.Errors), strings.Join(parts, "; "))
}
