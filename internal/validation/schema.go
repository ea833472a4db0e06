// Package validation checks JSON values against schemas derived from Go types.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrInvalidInput is wrapped by every error Decode and Check return for a
// value that does not satisfy its schema.
var ErrInvalidInput = errors.New("invalid input")

// Schema is the JSON Schema of T, resolved once and reused for every value.
type Schema[T any] struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// For infers the schema of T. Struct fields without omitempty are required and
// unknown properties are rejected.
func For[T any]() (*Schema[T], error) {
	s, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("infer schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return &Schema[T]{schema: s, resolved: resolved}, nil
}

// MustFor is For for package-level schemas; it panics if T has no JSON Schema.
func MustFor[T any]() *Schema[T] {
	s, err := For[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// JSONSchema returns the underlying schema, for advertising to models and clients.
func (s *Schema[T]) JSONSchema() *jsonschema.Schema {
	return s.schema
}

// Decode validates raw against the schema and only then unmarshals it into T.
func (s *Schema[T]) Decode(raw json.RawMessage) (T, error) {
	var zero T
	if len(bytes.TrimSpace(raw)) == 0 {
		return zero, fmt.Errorf("%w: empty value", ErrInvalidInput)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return zero, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidInput, err)
	}
	if err := s.resolved.Validate(instance); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return v, nil
}

// Check validates an already-built value, such as a flow result.
func (s *Schema[T]) Check(v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrInvalidInput, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
