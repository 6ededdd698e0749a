// Package schema provides the schema capability used by servicebox: a small
// set of JSON Schema builders and a Compiler that turns schemas into reusable
// Validators.
//
// Schemas are plain JSON Schema (draft 7) documents. The builders attach a
// "kind" keyword (and a "modifier" keyword for optional properties) as
// descriptive metadata; the compiler ignores keywords it does not know, so
// schemas may carry application-defined metadata.
//
//	sig := schema.Tuple(schema.Number(), schema.Number())
//	v, err := schema.Default().Compile(sig)
//	ok, errs := v.Validate([]any{1.0, 2.0})
package schema

import "maps"

// Schema is a JSON Schema document in decoded form. A nil Schema accepts any
// value.
type Schema map[string]any

// Properties maps object property names to their schemas.
type Properties map[string]Schema

// Any accepts every value.
func Any() Schema {
	return Schema{"kind": "Any"}
}

// Unknown accepts every value. It is an alias of Any kept for symmetry with
// protocol envelopes, where "unknown" documents intent.
func Unknown() Schema {
	return Schema{"kind": "Unknown"}
}

func Null() Schema {
	return Schema{"kind": "Null", "type": "null"}
}

func Boolean() Schema {
	return Schema{"kind": "Boolean", "type": "boolean"}
}

func Number() Schema {
	return Schema{"kind": "Number", "type": "number"}
}

func Integer() Schema {
	return Schema{"kind": "Integer", "type": "integer"}
}

func String() Schema {
	return Schema{"kind": "String", "type": "string"}
}

// Format is a string constrained by a JSON Schema format such as "email",
// "date-time", "uri" or "uuid".
func Format(format string) Schema {
	return Schema{"kind": "String", "type": "string", "format": format}
}

// Literal accepts exactly v.
func Literal(v any) Schema {
	return Schema{"kind": "Literal", "const": v}
}

// Array accepts arrays whose elements all satisfy items.
func Array(items Schema) Schema {
	return Schema{"kind": "Array", "type": "array", "items": orAny(items)}
}

// Tuple accepts arrays of exactly len(items) elements, each satisfying the
// schema at the same position.
func Tuple(items ...Schema) Schema {
	list := make([]any, len(items))
	for i, s := range items {
		list[i] = orAny(s)
	}
	return Schema{
		"kind":            "Tuple",
		"type":            "array",
		"items":           list,
		"minItems":        len(items),
		"maxItems":        len(items),
		"additionalItems": false,
	}
}

// Object accepts objects with the given properties. Properties are required
// unless wrapped with Optional. Additional properties are allowed.
func Object(props Properties) Schema {
	out := make(map[string]any, len(props))
	required := []string{}
	for _, name := range sortedKeys(props) {
		s := orAny(props[name])
		out[name] = s
		if s["modifier"] != "Optional" {
			required = append(required, name)
		}
	}
	return Schema{
		"kind":       "Object",
		"type":       "object",
		"properties": out,
		"required":   required,
	}
}

// Strict is Object with additional properties rejected.
func Strict(props Properties) Schema {
	s := Object(props)
	s["additionalProperties"] = false
	return s
}

// Record accepts objects whose values all satisfy values.
func Record(values Schema) Schema {
	return Schema{"kind": "Record", "type": "object", "additionalProperties": orAny(values)}
}

// Union accepts values satisfying at least one of the schemas.
func Union(schemas ...Schema) Schema {
	list := make([]any, len(schemas))
	for i, s := range schemas {
		list[i] = orAny(s)
	}
	return Schema{"kind": "Union", "anyOf": list}
}

// Optional marks s as an optional object property. It returns a copy.
func Optional(s Schema) Schema {
	out := maps.Clone(orAny(s))
	out["modifier"] = "Optional"
	return out
}

// Describe returns a copy of s carrying a human-readable description.
func Describe(s Schema, description string) Schema {
	out := maps.Clone(orAny(s))
	out["description"] = description
	return out
}

func orAny(s Schema) Schema {
	if s == nil {
		return Any()
	}
	return s
}
