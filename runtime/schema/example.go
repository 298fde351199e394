package schema

import (
	"math"
	"strings"
)

// Example produces a minimal value accepted by the schema, used to prime the
// LLM with the expected output shape. The construction mirrors Check so the
// result satisfies the schema by construction; tests assert this for randomly
// generated trees.
func Example(s *Schema) any {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case KindObject:
		obj := make(map[string]any, len(s.Fields))
		for _, f := range s.Fields {
			if f.Optional {
				continue
			}
			obj[f.Name] = Example(f.Schema)
		}
		return obj
	case KindArray:
		n := 1
		if s.MinItems != nil && *s.MinItems > n {
			n = *s.MinItems
		}
		if s.MaxItems != nil && *s.MaxItems < n {
			n = *s.MaxItems
		}
		arr := make([]any, n)
		for i := range arr {
			arr[i] = Example(s.Elem)
		}
		return arr
	case KindString:
		return exampleString(s)
	case KindNumber:
		return exampleNumber(s)
	case KindBoolean:
		return true
	case KindEnum:
		if len(s.Options) > 0 {
			return normalizeLiteral(s.Options[0])
		}
		return nil
	case KindUnion:
		if len(s.Variants) > 0 {
			return Example(s.Variants[0])
		}
		return nil
	default:
		// Unknown kinds yield an empty object per the degradation policy.
		return map[string]any{}
	}
}

func exampleString(s *Schema) string {
	var base string
	switch s.Format {
	case FormatEmail:
		base = "user@example.com"
		if s.MaxLen != nil && len(base) > *s.MaxLen {
			base = "a@b.c"
		}
	case FormatURL:
		base = "https://example.com"
		if s.MaxLen != nil && len(base) > *s.MaxLen {
			base = "http://a.b"
		}
	case FormatUUID:
		// UUIDs have a fixed length; a tighter MaxLen is unsatisfiable.
		base = "123e4567-e89b-12d3-a456-426614174000"
	default:
		base = "text"
	}
	if s.MinLen != nil && len(base) < *s.MinLen {
		base += strings.Repeat("x", *s.MinLen-len(base))
	}
	if s.MaxLen != nil && len(base) > *s.MaxLen && s.Format == "" {
		base = base[:*s.MaxLen]
	}
	return base
}

func exampleNumber(s *Schema) float64 {
	n := 0.0
	if s.Min != nil {
		n = *s.Min
	}
	if s.Max != nil && n > *s.Max {
		n = *s.Max
	}
	if s.Integer {
		n = math.Ceil(n)
		if s.Max != nil && n > *s.Max {
			n = math.Floor(*s.Max)
		}
	}
	return n
}

// normalizeLiteral converts Go integer literals used in enum options to the
// float64 representation produced by JSON decoding, so examples compare equal
// after a serialization round-trip.
func normalizeLiteral(v any) any {
	if n, ok := asFloat(v); ok {
		return n
	}
	return v
}
