// Package validation adapts go-playground/validator into per-field errors
// addressed by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error collects field failures for a single payload.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		messages = append(messages, field.Message)
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// New returns an Error for a single field.
func New(field, message string) *Error {
	return &Error{Fields: []FieldError{{Field: field, Message: message}}}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

var (
	sharedOnce     sync.Once
	sharedValidate *validator.Validate
)

func engine() *validator.Validate {
	sharedOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
		sharedValidate = v
	})
	return sharedValidate
}

// Struct validates value against its `validate` tags.
func Struct(value any) error {
	err := engine().Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	result := &Error{Fields: make([]FieldError, 0, len(fieldErrors))}
	for _, fieldError := range fieldErrors {
		result.Fields = append(result.Fields, FieldError{
			Field:   fieldPath(fieldError),
			Message: describe(fieldError),
		})
	}
	return result
}

// fieldPath strips the root struct name from the namespace, leaving e.g. "options[0].text".
func fieldPath(fieldError validator.FieldError) string {
	namespace := fieldError.Namespace()
	if index := strings.Index(namespace, "."); index >= 0 {
		return namespace[index+1:]
	}
	return fieldError.Field()
}

func describe(fieldError validator.FieldError) string {
	field := fieldPath(fieldError)
	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fieldError.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		if fieldError.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s entries", field, fieldError.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", field, fieldError.Param())
	case "max":
		if fieldError.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at most %s entries", field, fieldError.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fieldError.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fieldError.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fieldError.Tag())
	}
}
