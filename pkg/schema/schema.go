package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Schema is a structural description of a value: type, required fields,
// enums, numeric ranges, nested objects and arrays. It is immutable after
// Parse and safe for concurrent use.
type Schema struct {
	spec *openapi3.Schema
	raw  map[string]any
}

// Parse builds a Schema from a JSON-Schema-equivalent document, typically
// decoded from YAML. Example:
//
//	type: object
//	required: [score]
//	properties:
//	  score: {type: number, minimum: 0, maximum: 1}
func Parse(spec map[string]any) (*Schema, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("empty schema document")
	}

	data, err := json.Marshal(normalize(spec))
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema document: %w", err)
	}

	var s openapi3.Schema
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}

	return &Schema{spec: &s, raw: spec}, nil
}

// MustParse is Parse for static schema literals; it panics on error.
func MustParse(spec map[string]any) *Schema {
	s, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// Object is a shorthand for the common case: an object schema with the
// given properties, all of them required.
func Object(props map[string]any) *Schema {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	return MustParse(map[string]any{
		"type":       "object",
		"required":   required,
		"properties": props,
	})
}

// Raw returns the original schema document (for rendering and transport).
func (s *Schema) Raw() map[string]any {
	if s == nil {
		return nil
	}
	return s.raw
}

// Validate checks value against the schema. A nil Schema validates anything.
// On failure it returns an *AggregateError containing one *ValidationError
// per violation.
func (s *Schema) Validate(value any) error {
	if s == nil || s.spec == nil {
		return nil
	}

	err := s.spec.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var multi openapi3.MultiError
	if !errors.As(err, &multi) {
		multi = openapi3.MultiError{err}
	}

	agg := &AggregateError{}
	for _, e := range multi {
		var se *openapi3.SchemaError
		if errors.As(e, &se) {
			agg.Errors = append(agg.Errors, &ValidationError{
				Key:    strings.Join(se.JSONPointer(), "."),
				Reason: se.Reason,
				Value:  se.Value,
			})
			continue
		}
		agg.Errors = append(agg.Errors, &ValidationError{Reason: e.Error()})
	}
	return agg
}

// normalize converts map[any]any trees (yaml.v2 legacy decoding) into
// map[string]any so they survive json.Marshal. yaml.v3 already produces
// string keys; this keeps Parse tolerant of both.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
