package runner

import (
	"errors"
	"fmt"

	"github.com/weft-run/weft/internal/workflow"
)

var (
	// ErrMissingInput is returned when a required input has no value and
	// no default.
	ErrMissingInput = errors.New("required input missing")

	// ErrInputNotObject is returned when a job input is not a JSON
	// object.
	ErrInputNotObject = errors.New("input must be an object")
)

// asInputMap normalizes a job's input value into a string-keyed map. A nil
// input becomes an empty map; anything but an object is rejected.
func asInputMap(input any) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w, got %T", ErrInputNotObject, input)
	}
}

// materializeInput applies the declared fields to the supplied values:
// absent values take their default, required fields without either fail.
// Values for undeclared fields pass through untouched.
func materializeInput(fields map[string]workflow.InputField, input map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields)+len(input))
	for key, value := range input {
		out[key] = value
	}
	for name, field := range fields {
		if _, ok := out[name]; ok {
			continue
		}
		if field.Default != nil {
			out[name] = field.Default
			continue
		}
		if field.Required {
			return nil, fmt.Errorf("%w: %q", ErrMissingInput, name)
		}
	}
	return out, nil
}
