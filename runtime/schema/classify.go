package schema

type (
	// ClassifiedIssue decorates an Issue with the priority of the failure, the
	// sub-schema at the issue path, and the closed-set options and bounds
	// extracted from that sub-schema. Feedback generation orders corrections
	// by priority.
	ClassifiedIssue struct {
		Issue

		// Priority ranks how disruptive the failure is to producing a valid
		// value.
		Priority Priority

		// Target is the sub-schema at the issue path. Nil when the path does
		// not resolve (e.g. unrecognized keys).
		Target *Schema

		// Options lists the allowed values when Target is an enum or a tagged
		// union discriminator.
		Options []string

		// MinBound and MaxBound carry size bounds from the target schema when
		// relevant to the failure.
		MinBound *float64
		MaxBound *float64

		// Suggestions holds nearest-match candidates for enum mismatches,
		// ordered by similarity ("did you mean").
		Suggestions []string
	}

	// Priority ranks issue severity.
	Priority string
)

// Issue priorities.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Classify attaches a priority to the issue, resolves the sub-schema at the
// issue path, and extracts allowed options, size bounds and nearest-match
// suggestions. Classification is pure and never fails: unresolvable paths
// simply yield a nil target.
func Classify(issue Issue, root *Schema) ClassifiedIssue {
	out := ClassifiedIssue{Issue: issue, Priority: priorityFor(issue.Code)}
	out.Target = At(root, issue.Path)
	if t := out.Target; t != nil {
		switch t.Kind {
		case KindEnum:
			out.Options = literalStrings(t.Options)
		case KindUnion:
			if t.Discriminator != "" {
				out.Options = t.discriminatorValues()
			}
		case KindString:
			out.MinBound = intBound(t.MinLen)
			out.MaxBound = intBound(t.MaxLen)
		case KindNumber:
			out.MinBound = t.Min
			out.MaxBound = t.Max
		case KindArray:
			out.MinBound = intBound(t.MinItems)
			out.MaxBound = intBound(t.MaxItems)
		}
	}
	if len(out.Options) == 0 && len(issue.Options) > 0 {
		out.Options = issue.Options
	}
	if issue.Code == CodeInvalidEnum || issue.Code == CodeInvalidValue {
		if received := rawString(issue.Received); received != "" {
			for _, m := range ClosestMatches(received, out.Options) {
				out.Suggestions = append(out.Suggestions, m.Value)
			}
		}
	}
	return out
}

func priorityFor(code Code) Priority {
	switch code {
	case CodeInvalidType:
		return PriorityCritical
	case CodeUnrecognizedKeys, CodeInvalidUnion:
		return PriorityHigh
	case CodeTooSmall, CodeTooBig:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// At walks the schema tree along the value path and returns the sub-schema
// addressing it, or nil when the path does not resolve. Union nodes are
// traversed through their first matching variant field.
func At(root *Schema, path Path) *Schema {
	s := root
	for _, seg := range path {
		if s == nil {
			return nil
		}
		switch key := seg.(type) {
		case string:
			s = s.fieldSchema(key)
		case int:
			if s.Kind != KindArray {
				return nil
			}
			s = s.Elem
		default:
			return nil
		}
	}
	return s
}

// fieldSchema resolves a named field on objects and, for unions, on the first
// variant declaring it. For tagged unions the discriminator field resolves to
// a synthetic enum over all variant tags.
func (s *Schema) fieldSchema(name string) *Schema {
	switch s.Kind {
	case KindObject:
		if f := s.FieldNamed(name); f != nil {
			return f.Schema
		}
	case KindUnion:
		if s.Discriminator == name {
			opts := make([]any, 0)
			for _, v := range s.discriminatorValues() {
				opts = append(opts, v)
			}
			return &Schema{Kind: KindEnum, Options: opts}
		}
		for _, variant := range s.Variants {
			if sub := variant.fieldSchema(name); sub != nil {
				return sub
			}
		}
	}
	return nil
}

func intBound(n *int) *float64 {
	if n == nil {
		return nil
	}
	f := float64(*n)
	return &f
}

// rawString strips the quotes literalString adds around string values.
func rawString(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
