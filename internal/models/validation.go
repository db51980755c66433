package models

import (
	"errors"
	"strings"
)

// ValidationError names the field a conversation or message was rejected
// for. Field paths are dotted, e.g. "anchor.application_id".
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (v ValidationError) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// ValidationErrors is returned by Validate methods. Every broken field is
// listed, and errors.Is reaches any recorded cause.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Add records err under field. When err is itself a ValidationErrors its
// entries are merged beneath field.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}
	var nested *ValidationErrors
	if !errors.As(err, &nested) {
		v.Errors = append(v.Errors, ValidationError{Field: field, Message: err.Error(), Cause: err})
		return
	}
	for _, sub := range nested.Errors {
		sub.Field = fieldPath(field, sub.Field)
		v.Errors = append(v.Errors, sub)
	}
}

// AddMessage records a rule violation that has no underlying error.
func (v *ValidationErrors) AddMessage(field, message string) {
	if message != "" {
		v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
	}
}

// Err returns v as an error, or nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "invalid record"
	}
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the recorded causes to errors.Is and errors.As.
func (v *ValidationErrors) Unwrap() []error {
	if v == nil {
		return nil
	}
	var causes []error
	for _, e := range v.Errors {
		if e.Cause != nil {
			causes = append(causes, e.Cause)
		}
	}
	return causes
}

func fieldPath(prefix, field string) string {
	if prefix == "" || field == "" {
		return prefix + field
	}
	return prefix + "." + field
}
