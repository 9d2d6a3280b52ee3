package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ParseError reports a raw payload that does not match its trigger type.
type ParseError struct {
	Type   Type
	Fields []string
	Err    error
}

func (e *ParseError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("invalid %s payload: %s", e.Type, strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid %s payload: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("invalid %s payload", e.Type)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse validates body against the trigger type's shape and normalizes it.
// Unlike Normalize it rejects payloads that flow code could not use.
func Parse(t Type, body map[string]any, req Request) (Event, error) {
	return defaultRegistry.Parse(t, body, req)
}

func (r *Registry) Parse(t Type, body map[string]any, req Request) (Event, error) {
	return r.ParseAt(r.now(), t, body, req)
}

func (r *Registry) ParseAt(at time.Time, t Type, body map[string]any, req Request) (Event, error) {
	def := r.Lookup(t)
	if def.Validate != nil {
		if err := def.Validate(body); err != nil {
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				parseErr.Type = t
				return nil, parseErr
			}
			return nil, &ParseError{Type: t, Err: err}
		}
	}
	return def.Normalize(newBase(at, t, body, req), req), nil
}

type mentionEnvelope struct {
	EventID string        `json:"event_id"`
	Event   *mentionEvent `json:"event" validate:"required"`
}

type mentionEvent struct {
	Type     string `json:"type" validate:"eq=app_mention"`
	Channel  string `json:"channel" validate:"required"`
	User     string `json:"user" validate:"required"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts"`
}

type messageEnvelope struct {
	EventID string        `json:"event_id"`
	Event   *messageEvent `json:"event" validate:"required"`
}

type messageEvent struct {
	Type        string `json:"type" validate:"eq=message"`
	Channel     string `json:"channel" validate:"required"`
	ChannelType string `json:"channel_type"`
	Subtype     string `json:"subtype"`
	Text        string `json:"text"`
}

type cronPayload struct {
	Cron string         `json:"cron" validate:"required"`
	Body map[string]any `json:"body"`
}

func validateBotMentioned(body map[string]any) error {
	return validateShape(body, &mentionEnvelope{})
}

func validateMessageReceived(body map[string]any) error {
	return validateShape(body, &messageEnvelope{})
}

func validateCron(body map[string]any) error {
	return validateShape(body, &cronPayload{})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateShape decodes body into shape and runs its validate tags.
func validateShape(body map[string]any, shape any) error {
	if body == nil {
		return &ParseError{Fields: []string{"body: required"}}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return &ParseError{Err: fmt.Errorf("encoding body: %w", err)}
	}
	if err := json.Unmarshal(data, shape); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ParseError{Fields: []string{fmt.Sprintf("%s: expected %s", typeErr.Field, typeErr.Type)}, Err: err}
		}
		return &ParseError{Err: err}
	}

	if err := validate.Struct(shape); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return &ParseError{Err: err}
		}
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fmt.Sprintf("%s: %s", fieldPath(fe.Namespace()), describeTag(fe)))
		}
		return &ParseError{Fields: fields, Err: err}
	}
	return nil
}

// fieldPath drops the Go struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
	}
	return fe.Tag()
}
