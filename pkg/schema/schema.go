// Package schema turns raw model output into validated Go values.
//
// Completion backends are asked for JSON but nothing guarantees they comply,
// so every response goes through Decode: markdown fences are stripped, the
// payload is unmarshalled into the target struct and the struct's `validate`
// tags are checked.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrEmpty is returned when there is nothing to parse.
var ErrEmpty = errors.New("empty response")

// ParseError reports raw output that is not valid JSON or does not match the
// declared shape.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Decode parses raw into T and validates it.
func Decode[T any](raw string) (T, error) {
	var out T

	payload := stripFences(raw)
	if payload == "" {
		return out, &ParseError{Raw: raw, Err: ErrEmpty}
	}

	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, &ParseError{Raw: raw, Err: fmt.Errorf("json parse error: %w", err)}
	}

	if err := validate.Struct(out); err != nil {
		return out, &ParseError{Raw: raw, Err: fmt.Errorf("validation failed: %w", err)}
	}

	return out, nil
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}
