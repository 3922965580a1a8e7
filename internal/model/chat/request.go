package chat

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// MaxMessageLength bounds a single user message, counted in code points.
const MaxMessageLength = 4000

// Request is the body of POST /api/chat.
type Request struct {
	SessionID string `json:"sessionId" validate:"required"`
	Message   string `json:"message" validate:"required,max=4000"`
}

// ValidationError carries field-level failures in the flattened
// {formErrors, fieldErrors} shape the web client understands.
type ValidationError struct {
	FormErrors  []string            `json:"formErrors"`
	FieldErrors map[string][]string `json:"fieldErrors"`
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.FieldErrors))
	for name := range e.FieldErrors {
		fields = append(fields, name)
	}
	if len(fields) == 0 {
		return "invalid request: " + strings.Join(e.FormErrors, "; ")
	}
	return "invalid request fields: " + strings.Join(fields, ", ")
}

// NewFormError reports a failure that is not tied to a field, e.g. malformed JSON.
func NewFormError(msg string) *ValidationError {
	return &ValidationError{FormErrors: []string{msg}, FieldErrors: map[string][]string{}}
}

// DecodeError describes a JSON decoding failure. A value of the wrong type
// is reported against its field; anything else is a form error.
func DecodeError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return NewFormError("Expected a JSON object")
	}
	msg := fmt.Sprintf("Expected %s, received %s", jsonKind(typeErr.Type), typeErr.Value)
	if typeErr.Field == "" {
		return NewFormError(msg)
	}
	return &ValidationError{
		FormErrors:  []string{},
		FieldErrors: map[string][]string{typeErr.Field: {msg}},
	}
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Struct, reflect.Map:
		return "object"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return t.Kind().String()
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the request shape and returns a *ValidationError on failure.
func (r Request) Validate() error {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(err, "validate chat request")
	}

	out := &ValidationError{FormErrors: []string{}, FieldErrors: map[string][]string{}}
	for _, fe := range fieldErrs {
		out.FieldErrors[fe.Field()] = append(out.FieldErrors[fe.Field()], describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "max":
		return fmt.Sprintf("String must contain at most %s character(s)", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
