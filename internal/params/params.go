// Package params validates and normalizes user-supplied job parameters against a
// per-job-type schema.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/vidlens/engine/internal/model"
)

var (
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrInvalidValue     = errors.New("invalid parameter value")
	ErrMissingParameter = errors.New("missing required parameter")
)

// Parser coerces a raw value into the parameter's type.
type Parser func(v any) (any, error)

// Field declares one accepted parameter.
type Field struct {
	Type     string
	Parse    Parser
	Default  any
	Required bool
}

// Spec maps parameter names to their declaration. A Spec is built once at
// registration time and never mutated afterwards.
type Spec map[string]Field

func String(def string) Field {
	return Field{Type: "string", Parse: parseString, Default: def}
}

func Int(def int) Field {
	return Field{Type: "int", Parse: parseInt, Default: def}
}

func Float(def float64) Field {
	return Field{Type: "float", Parse: parseFloat, Default: def}
}

func Bool(def bool) Field {
	return Field{Type: "bool", Parse: parseBool, Default: def}
}

// StringList accepts a list of strings. It has no default.
func StringList() Field {
	return Field{Type: "list", Parse: parseStringList}
}

// OptionalString has no default and may be omitted.
func OptionalString() Field {
	return Field{Type: "string", Parse: parseString}
}

// Required marks a field as mandatory and drops its default.
func Required(f Field) Field {
	f.Required = true
	f.Default = nil
	return f
}

func parseString(v any) (any, error) { return cast.ToStringE(v) }
func parseFloat(v any) (any, error)  { return cast.ToFloat64E(v) }
func parseBool(v any) (any, error)   { return cast.ToBoolE(v) }

// parseInt reads strings as decimal; cast would treat "010" as octal.
func parseInt(v any) (any, error) {
	if s, ok := v.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(v)
}

// parseStringList takes a list, a JSON array or a comma separated string.
// Blank entries are dropped.
func parseStringList(v any) (any, error) {
	var items []string
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "[") {
			if err := json.Unmarshal([]byte(s), &items); err != nil {
				return nil, err
			}
		} else {
			items = strings.Split(s, ",")
		}
	case []string, []any:
		list, err := cast.ToStringSliceE(t)
		if err != nil {
			return nil, err
		}
		items = list
	default:
		return nil, fmt.Errorf("unable to cast %#v of type %T to []string", v, v)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// Validate checks input against spec and returns the normalized values. Defaults are
// applied first and overwritten by supplied values.
func Validate(spec Spec, input []model.Parameter) (Values, error) {
	values := make(Values, len(spec))
	for name, f := range spec {
		if f.Default != nil {
			values[name] = f.Default
		}
	}

	for _, p := range input {
		f, ok := spec[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownParameter, p.Name)
		}
		parse := f.Parse
		if parse == nil {
			parse = parseString
		}
		v, err := safeParse(parse, p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidValue, p.Name, err)
		}
		values[p.Name] = v
	}

	for name, f := range spec {
		if !f.Required {
			continue
		}
		if _, ok := values[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingParameter, name)
		}
	}

	return values, nil
}

func safeParse(parse Parser, raw any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return parse(raw)
}

// Describe lists the spec in name order for collaborators.
func Describe(spec Spec) []model.ParameterDescription {
	out := make([]model.ParameterDescription, 0, len(spec))
	for name, f := range spec {
		out = append(out, model.ParameterDescription{
			Name:     name,
			Type:     f.Type,
			Default:  f.Default,
			Required: f.Required,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
