package schema

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FromJSONSchema loads a JSON Schema document and maps the supported subset
// onto the declarative tree. The document is compiled first with the
// jsonschema package so malformed or self-contradictory documents are
// rejected with the compiler's diagnostics rather than silently degraded.
//
// Supported keywords: type, description, properties, required,
// additionalProperties (boolean), items, minItems, maxItems, minLength,
// maxLength, format (email/uri/uuid), minimum, maximum, enum, oneOf and the
// OpenAPI-style discriminator.propertyName. Unsupported constructs degrade to
// Any per the introspection policy.
func FromJSONSchema(data []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse json schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add json schema resource: %w", err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return nil, fmt.Errorf("compile json schema: %w", err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("json schema document must be an object")
	}
	return fromRaw(root), nil
}

func fromRaw(raw map[string]any) *Schema {
	s := &Schema{Kind: KindAny}
	if d, ok := raw["description"].(string); ok {
		s.Description = d
	}
	if options, ok := raw["enum"].([]any); ok {
		s.Kind = KindEnum
		s.Options = options
		return s
	}
	if variants, ok := raw["oneOf"].([]any); ok {
		s.Kind = KindUnion
		for _, v := range variants {
			if vm, ok := v.(map[string]any); ok {
				s.Variants = append(s.Variants, fromRaw(vm))
			}
		}
		if disc, ok := raw["discriminator"].(map[string]any); ok {
			if prop, ok := disc["propertyName"].(string); ok {
				s.Discriminator = prop
			}
		}
		return s
	}
	switch raw["type"] {
	case "object":
		s.Kind = KindObject
		required := map[string]bool{}
		if reqs, ok := raw["required"].([]any); ok {
			for _, r := range reqs {
				if name, ok := r.(string); ok {
					required[name] = true
				}
			}
		}
		if props, ok := raw["properties"].(map[string]any); ok {
			for _, name := range sortedKeys(props) {
				fm, ok := props[name].(map[string]any)
				if !ok {
					continue
				}
				s.Fields = append(s.Fields, Field{
					Name:     name,
					Schema:   fromRaw(fm),
					Optional: !required[name],
				})
			}
		}
		if ap, ok := raw["additionalProperties"].(bool); ok && ap {
			s.Open = true
		}
	case "array":
		s.Kind = KindArray
		if items, ok := raw["items"].(map[string]any); ok {
			s.Elem = fromRaw(items)
		} else {
			s.Elem = Any()
		}
		if n, ok := asFloat(raw["minItems"]); ok {
			s.MinLenItems(int(n))
		}
		if n, ok := asFloat(raw["maxItems"]); ok {
			s.MaxLenItems(int(n))
		}
	case "string":
		s.Kind = KindString
		if n, ok := asFloat(raw["minLength"]); ok {
			s.MinLength(int(n))
		}
		if n, ok := asFloat(raw["maxLength"]); ok {
			s.MaxLength(int(n))
		}
		switch raw["format"] {
		case "email":
			s.Format = FormatEmail
		case "uri", "url":
			s.Format = FormatURL
		case "uuid":
			s.Format = FormatUUID
		}
	case "number", "integer":
		s.Kind = KindNumber
		s.Integer = raw["type"] == "integer"
		if n, ok := asFloat(raw["minimum"]); ok {
			s.Minimum(n)
		}
		if n, ok := asFloat(raw["maximum"]); ok {
			s.Maximum(n)
		}
	case "boolean":
		s.Kind = KindBoolean
	}
	return s
}

// ToJSONSchema exports the declarative tree as a JSON Schema document. The
// export round-trips through FromJSONSchema for the supported subset.
func ToJSONSchema(s *Schema) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if s.Description != "" {
		out["description"] = s.Description
	}
	switch s.Kind {
	case KindObject:
		out["type"] = "object"
		props := map[string]any{}
		var required []any
		for _, f := range s.Fields {
			props[f.Name] = ToJSONSchema(f.Schema)
			if !f.Optional {
				required = append(required, f.Name)
			}
		}
		out["properties"] = props
		if len(required) > 0 {
			out["required"] = required
		}
		out["additionalProperties"] = s.Open
	case KindArray:
		out["type"] = "array"
		out["items"] = ToJSONSchema(s.Elem)
		if s.MinItems != nil {
			out["minItems"] = float64(*s.MinItems)
		}
		if s.MaxItems != nil {
			out["maxItems"] = float64(*s.MaxItems)
		}
	case KindString:
		out["type"] = "string"
		if s.MinLen != nil {
			out["minLength"] = float64(*s.MinLen)
		}
		if s.MaxLen != nil {
			out["maxLength"] = float64(*s.MaxLen)
		}
		switch s.Format {
		case FormatEmail:
			out["format"] = "email"
		case FormatURL:
			out["format"] = "uri"
		case FormatUUID:
			out["format"] = "uuid"
		}
	case KindNumber:
		if s.Integer {
			out["type"] = "integer"
		} else {
			out["type"] = "number"
		}
		if s.Min != nil {
			out["minimum"] = *s.Min
		}
		if s.Max != nil {
			out["maximum"] = *s.Max
		}
	case KindBoolean:
		out["type"] = "boolean"
	case KindEnum:
		out["enum"] = append([]any(nil), s.Options...)
	case KindUnion:
		variants := make([]any, len(s.Variants))
		for i, v := range s.Variants {
			variants[i] = ToJSONSchema(v)
		}
		out["oneOf"] = variants
		if s.Discriminator != "" {
			out["discriminator"] = map[string]any{"propertyName": s.Discriminator}
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
