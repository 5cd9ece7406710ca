package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so issues match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// notblank rejects whitespace-only strings that would pass min=1.
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// Validate validates a struct using go-playground/validator tags.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return &ValidationError{Errors: validationErrors}
		}
		return err
	}
	return nil
}

// Issue describes a single field that failed validation.
type Issue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError wraps validator.ValidationErrors with a user-friendly
// message. Decode carries failures found before validation ran, such as a
// JSON value of the wrong type.
type ValidationError struct {
	Errors validator.ValidationErrors
	Decode []Issue
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, issue := range e.Issues() {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", issue.Field, issue.Message))
	}
	return strings.Join(msgs, "; ")
}

// Fields returns a map of field names to error messages.
func (e *ValidationError) Fields() map[string]string {
	issues := e.Issues()
	fields := make(map[string]string, len(issues))
	for _, issue := range issues {
		fields[issue.Field] = issue.Message
	}
	return fields
}

// Issues returns the failures as an ordered list, in struct field order.
func (e *ValidationError) Issues() []Issue {
	issues := make([]Issue, 0, len(e.Decode)+len(e.Errors))
	issues = append(issues, e.Decode...)
	for _, err := range e.Errors {
		issues = append(issues, Issue{
			Field:   err.Field(),
			Rule:    err.Tag(),
			Message: msgForTag(err),
		})
	}
	return issues
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// DecodeAndValidate reads JSON from the request body, decodes it into dst,
// and validates it. Empty or syntactically broken bodies yield a BAD_REQUEST
// AppError; a value of the wrong JSON type and constraint failures yield a
// *ValidationError.
func DecodeAndValidate(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var (
			typeErr *json.UnmarshalTypeError
			sizeErr *http.MaxBytesError
		)
		switch {
		case errors.Is(err, io.EOF):
			return apperrors.BadRequest("request body is empty", nil)
		case errors.As(err, &sizeErr):
			return apperrors.BadRequest("request body too large", nil)
		case errors.As(err, &typeErr):
			return &ValidationError{Decode: []Issue{typeIssue(typeErr)}}
		default:
			return apperrors.BadRequest("malformed JSON body", nil)
		}
	}
	return Validate(dst)
}

func typeIssue(err *json.UnmarshalTypeError) Issue {
	field := err.Field
	if field == "" {
		field = "body"
	}
	return Issue{Field: field, Rule: "type", Message: "must be " + jsonKind(err.Type)}
}

// jsonKind names the JSON value a Go type decodes from.
func jsonKind(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	default:
		return "an object"
	}
}
