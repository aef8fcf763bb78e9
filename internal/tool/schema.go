package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/invopop/jsonschema"
)

// Schema describes and parses a tool's parameters.
type Schema interface {
	// JSONSchema renders the schema for the model.
	JSONSchema() json.RawMessage
	// Parse validates raw arguments and returns the value handed to the
	// tool's handler. Strict parsing rejects keys the schema does not
	// declare.
	Parse(raw json.RawMessage, strict bool) (any, error)
}

var reflector = jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

type typedSchema[P any] struct {
	rendered json.RawMessage
	required []string
}

// Reflect builds a Schema from the struct type P. Fields without omitempty
// are required; jsonschema struct tags add descriptions and enums.
func Reflect[P any]() Schema {
	var zero P
	s := reflector.Reflect(zero)
	s.Version = ""
	s.ID = ""
	rendered, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tool: reflect %T: %v", zero, err))
	}
	return typedSchema[P]{rendered: rendered, required: s.Required}
}

func (s typedSchema[P]) JSONSchema() json.RawMessage { return s.rendered }

func (s typedSchema[P]) Parse(raw json.RawMessage, strict bool) (any, error) {
	raw = orEmptyObject(raw)

	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	for _, field := range s.required {
		if _, ok := present[field]; !ok {
			return nil, fmt.Errorf("missing required argument %q", field)
		}
	}

	var p P
	dec := json.NewDecoder(bytes.NewReader(raw))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// Func builds a tool whose parameters are the struct P.
func Func[P any](name, description string, fn func(ctx context.Context, params P) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Params:      Reflect[P](),
		Handler: func(ctx context.Context, v any) (any, error) {
			p, ok := v.(P)
			if !ok {
				return nil, fmt.Errorf("%w: parameters of type %T", ErrInvalidToolOutput, v)
			}
			return fn(ctx, p)
		},
	}
}

type rawSchema struct {
	rendered json.RawMessage
	parsed   map[string]any
	err      error
}

// RawSchema wraps a hand-written JSON schema. Parsed arguments are a
// map[string]any checked against required, properties[*].type and
// additionalProperties.
func RawSchema(schema json.RawMessage) Schema {
	s := rawSchema{rendered: schema}
	if err := json.Unmarshal(schema, &s.parsed); err != nil {
		s.err = fmt.Errorf("decode schema: %w", err)
	}
	return s
}

func (s rawSchema) JSONSchema() json.RawMessage { return s.rendered }

func (s rawSchema) Parse(raw json.RawMessage, strict bool) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	var args map[string]any
	if err := json.Unmarshal(orEmptyObject(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArguments(s.parsed, args, strict); err != nil {
		return nil, err
	}
	return args, nil
}

// Raw builds a tool from a hand-written JSON schema.
func Raw(name, description string, schema json.RawMessage, fn func(ctx context.Context, args map[string]any) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Params:      RawSchema(schema),
		Handler: func(ctx context.Context, v any) (any, error) {
			args, _ := v.(map[string]any)
			return fn(ctx, args)
		},
	}
}

type noParams struct{}

func (noParams) JSONSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (noParams) Parse(json.RawMessage, bool) (any, error) { return nil, nil }

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`)
	}
	return raw
}

func validateArguments(schema, args map[string]any, strict bool) error {
	required, err := requiredFields(schema["required"])
	if err != nil {
		return err
	}
	for _, field := range required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required argument %q", field)
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	additional := true
	switch v := schema["additionalProperties"].(type) {
	case nil:
	case bool:
		additional = v
	default:
		return errors.New(`schema "additionalProperties" must be a bool`)
	}
	if strict {
		additional = false
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, declared := properties[key]
		if !declared {
			if !additional {
				return fmt.Errorf("unknown argument %q", key)
			}
			continue
		}
		propMap, _ := prop.(map[string]any)
		expected, _ := propMap["type"].(string)
		if expected != "" && !matchesType(expected, args[key]) {
			return fmt.Errorf("argument %q must be %s", key, expected)
		}
	}
	return nil
}

func requiredFields(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			field, ok := item.(string)
			if !ok {
				return nil, errors.New(`schema "required" entries must be strings`)
			}
			out = append(out, field)
		}
		return out, nil
	default:
		return nil, errors.New(`schema "required" must be an array`)
	}
}

func matchesType(expected string, value any) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		return value != nil && reflect.TypeOf(value).Kind() == reflect.Slice
	case "null":
		return value == nil
	default:
		return true
	}
}
