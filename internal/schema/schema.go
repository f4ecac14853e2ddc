// Package schema validates tool argument maps against a JSON-Schema-like
// descriptor. Validation is pure: a parsed Schema holds no mutable state and
// is safe for concurrent use.
package schema

import (
	"fmt"
)

// Field describes the expected shape of a single value. Object fields carry
// nested properties; array fields carry an element descriptor.
type Field struct {
	Type       string
	Properties map[string]*Field
	Required   []string
	Items      *Field
}

// Schema is the parsed descriptor for a tool's argument map.
type Schema struct {
	root *Field
}

// Known scalar/container type names. Anything else validates permissively.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Parse converts a raw descriptor map (the wire shape tools declare, e.g.
// {"type":"object","properties":{...},"required":[...]}) into a Schema.
// A nil or empty descriptor yields a permissive schema that accepts any
// argument map.
func Parse(def map[string]any) (*Schema, error) {
	if len(def) == 0 {
		return &Schema{}, nil
	}
	root, err := parseField(def)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &Schema{root: root}, nil
}

// MustParse is Parse for static descriptors; it panics on a malformed one.
func MustParse(def map[string]any) *Schema {
	s, err := Parse(def)
	if err != nil {
		panic(err)
	}
	return s
}

// Permissive reports whether the schema accepts everything.
func (s *Schema) Permissive() bool { return s == nil || s.root == nil }

func parseField(def map[string]any) (*Field, error) {
	f := &Field{}

	if t, ok := def["type"]; ok {
		ts, ok := t.(string)
		if !ok {
			return nil, fmt.Errorf("type must be a string, got %T", t)
		}
		f.Type = ts
	}

	if req, ok := def["required"]; ok {
		names, err := stringList(req)
		if err != nil {
			return nil, fmt.Errorf("required: %w", err)
		}
		f.Required = names
	}

	if props, ok := def["properties"]; ok {
		pm, ok := props.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("properties must be an object, got %T", props)
		}
		f.Properties = make(map[string]*Field, len(pm))
		for name, raw := range pm {
			sub, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q must be an object, got %T", name, raw)
			}
			pf, err := parseField(sub)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			f.Properties[name] = pf
		}
	}

	if items, ok := def["items"]; ok {
		im, ok := items.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("items must be an object, got %T", items)
		}
		itf, err := parseField(im)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		f.Items = itf
	}

	return f, nil
}

func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string entry, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", raw)
	}
}
