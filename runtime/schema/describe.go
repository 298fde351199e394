package schema

import (
	"fmt"
	"strings"
)

// Describe renders a one-line human-readable description of the schema shape,
// suitable for prompts and corrective feedback.
func Describe(s *Schema) string {
	if s == nil {
		return "value matching the specified schema"
	}
	switch s.Kind {
	case KindObject:
		names := make([]string, 0, len(s.Fields))
		for _, f := range s.Fields {
			n := f.Name
			if f.Optional {
				n += "?"
			}
			names = append(names, n)
		}
		if len(names) == 0 {
			return "object"
		}
		return fmt.Sprintf("object with fields %s", strings.Join(names, ", "))
	case KindArray:
		desc := fmt.Sprintf("array of %s", Describe(s.Elem))
		if s.MinItems != nil && s.MaxItems != nil {
			desc += fmt.Sprintf(" (%d to %d items)", *s.MinItems, *s.MaxItems)
		} else if s.MinItems != nil {
			desc += fmt.Sprintf(" (at least %d items)", *s.MinItems)
		} else if s.MaxItems != nil {
			desc += fmt.Sprintf(" (at most %d items)", *s.MaxItems)
		}
		return desc
	case KindString:
		desc := "string"
		if s.Format != "" {
			desc = fmt.Sprintf("string (%s)", s.Format)
		}
		return desc
	case KindNumber:
		desc := "number"
		if s.Integer {
			desc = "integer"
		}
		if s.Min != nil && s.Max != nil {
			desc += fmt.Sprintf(" between %s and %s", formatNumber(*s.Min), formatNumber(*s.Max))
		} else if s.Min != nil {
			desc += fmt.Sprintf(" >= %s", formatNumber(*s.Min))
		} else if s.Max != nil {
			desc += fmt.Sprintf(" <= %s", formatNumber(*s.Max))
		}
		return desc
	case KindBoolean:
		return "boolean"
	case KindEnum:
		return fmt.Sprintf("enum of {%s}", strings.Join(literalStrings(s.Options), ", "))
	case KindUnion:
		parts := make([]string, len(s.Variants))
		for i, v := range s.Variants {
			parts[i] = Describe(v)
		}
		if s.Discriminator != "" {
			return fmt.Sprintf("union discriminated by %q: %s", s.Discriminator, strings.Join(parts, " | "))
		}
		return fmt.Sprintf("union of %s", strings.Join(parts, " | "))
	default:
		return "value matching the specified schema"
	}
}
