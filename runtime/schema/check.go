package schema

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var uuidRE = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Check evaluates the decoded JSON value v against the schema and returns all
// issues found. Traversal is exhaustive: sibling failures are all reported so
// corrective feedback can address the full set in one retry. An empty result
// means the value is accepted.
func (s *Schema) Check(v any) []Issue {
	return s.check(v, nil)
}

func (s *Schema) check(v any, path Path) []Issue {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case KindAny:
		return nil
	case KindObject:
		return s.checkObject(v, path)
	case KindArray:
		return s.checkArray(v, path)
	case KindString:
		return s.checkString(v, path)
	case KindNumber:
		return s.checkNumber(v, path)
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return []Issue{typeIssue(path, "boolean", v)}
		}
		return nil
	case KindEnum:
		return s.checkEnum(v, path)
	case KindUnion:
		return s.checkUnion(v, path)
	default:
		// Unknown kinds degrade to accepting everything.
		return nil
	}
}

func (s *Schema) checkObject(v any, path Path) []Issue {
	obj, ok := v.(map[string]any)
	if !ok {
		return []Issue{typeIssue(path, "object", v)}
	}
	var issues []Issue
	for _, f := range s.Fields {
		fv, present := obj[f.Name]
		if !present {
			if !f.Optional {
				issues = append(issues, Issue{
					Path:     path.Key(f.Name),
					Code:     CodeRequiredMissing,
					Expected: Describe(f.Schema),
					Message:  fmt.Sprintf("required field %q is missing", f.Name),
				})
			}
			continue
		}
		issues = append(issues, f.Schema.check(fv, path.Key(f.Name))...)
	}
	if !s.Open {
		var extras []string
		for k := range obj {
			if s.FieldNamed(k) == nil {
				extras = append(extras, k)
			}
		}
		if len(extras) > 0 {
			sort.Strings(extras)
			issues = append(issues, Issue{
				Path:     path,
				Code:     CodeUnrecognizedKeys,
				Received: strings.Join(extras, ", "),
				Message:  fmt.Sprintf("unrecognized keys: %s", strings.Join(extras, ", ")),
				Options:  fieldNames(s.Fields),
			})
		}
	}
	return issues
}

func (s *Schema) checkArray(v any, path Path) []Issue {
	arr, ok := v.([]any)
	if !ok {
		return []Issue{typeIssue(path, "array", v)}
	}
	var issues []Issue
	if s.MinItems != nil && len(arr) < *s.MinItems {
		issues = append(issues, Issue{
			Path:     path,
			Code:     CodeTooSmall,
			Expected: fmt.Sprintf("at least %d items", *s.MinItems),
			Received: fmt.Sprintf("%d items", len(arr)),
			Message:  fmt.Sprintf("array must contain at least %d items, got %d", *s.MinItems, len(arr)),
		})
	}
	if s.MaxItems != nil && len(arr) > *s.MaxItems {
		issues = append(issues, Issue{
			Path:     path,
			Code:     CodeTooBig,
			Expected: fmt.Sprintf("at most %d items", *s.MaxItems),
			Received: fmt.Sprintf("%d items", len(arr)),
			Message:  fmt.Sprintf("array must contain at most %d items, got %d", *s.MaxItems, len(arr)),
		})
	}
	for i, ev := range arr {
		issues = append(issues, s.Elem.check(ev, path.Index(i))...)
	}
	return issues
}

func (s *Schema) checkString(v any, path Path) []Issue {
	str, ok := v.(string)
	if !ok {
		return []Issue{typeIssue(path, "string", v)}
	}
	var issues []Issue
	if s.MinLen != nil && len(str) < *s.MinLen {
		issues = append(issues, Issue{
			Path:     path,
			Code:     CodeTooSmall,
			Expected: fmt.Sprintf("at least %d characters", *s.MinLen),
			Received: fmt.Sprintf("%d characters", len(str)),
			Message:  fmt.Sprintf("string must contain at least %d characters, got %d", *s.MinLen, len(str)),
		})
	}
	if s.MaxLen != nil && len(str) > *s.MaxLen {
		issues = append(issues, Issue{
			Path:     path,
			Code:     CodeTooBig,
			Expected: fmt.Sprintf("at most %d characters", *s.MaxLen),
			Received: fmt.Sprintf("%d characters", len(str)),
			Message:  fmt.Sprintf("string must contain at most %d characters, got %d", *s.MaxLen, len(str)),
		})
	}
	if s.Format != "" && !matchesFormat(str, s.Format) {
		issues = append(issues, Issue{
			Path:     path,
			Code:     CodeInvalidFormat,
			Expected: string(s.Format),
			Received: str,
			Message:  fmt.Sprintf("string does not match format %q", s.Format),
		})
	}
	return issues
}

func (s *Schema) checkNumber(v any, path Path) []Issue {
	n, ok := v.(float64)
	if !ok {
		expected := "number"
		if s.Integer {
			expected = "integer"
		}
		return []Issue{typeIssue(path, expected, v)}
	}
	var issues []Issue
	if s.Integer && n != math.Trunc(n) {
		issues = append(issues, Issue{
			Path:     path,
			Code:     CodeInvalidType,
			Expected: "integer",
			Received: formatNumber(n),
			Message:  fmt.Sprintf("expected integer, got %s", formatNumber(n)),
		})
	}
	if s.Min != nil && n < *s.Min {
		issues = append(issues, Issue{
			Path:     path,
			Code:     CodeTooSmall,
			Expected: fmt.Sprintf(">= %s", formatNumber(*s.Min)),
			Received: formatNumber(n),
			Message:  fmt.Sprintf("number must be at least %s, got %s", formatNumber(*s.Min), formatNumber(n)),
		})
	}
	if s.Max != nil && n > *s.Max {
		issues = append(issues, Issue{
			Path:     path,
			Code:     CodeTooBig,
			Expected: fmt.Sprintf("<= %s", formatNumber(*s.Max)),
			Received: formatNumber(n),
			Message:  fmt.Sprintf("number must be at most %s, got %s", formatNumber(*s.Max), formatNumber(n)),
		})
	}
	return issues
}

func (s *Schema) checkEnum(v any, path Path) []Issue {
	for _, opt := range s.Options {
		if literalEqual(opt, v) {
			return nil
		}
	}
	return []Issue{{
		Path:     path,
		Code:     CodeInvalidEnum,
		Expected: strings.Join(literalStrings(s.Options), " | "),
		Received: literalString(v),
		Message:  fmt.Sprintf("invalid enum value %s, expected one of: %s", literalString(v), strings.Join(literalStrings(s.Options), ", ")),
		Options:  literalStrings(s.Options),
	}}
}

func (s *Schema) checkUnion(v any, path Path) []Issue {
	if s.Discriminator != "" {
		return s.checkTaggedUnion(v, path)
	}
	for _, variant := range s.Variants {
		if len(variant.check(v, path)) == 0 {
			return nil
		}
	}
	return []Issue{{
		Path:    path,
		Code:    CodeInvalidUnion,
		Message: fmt.Sprintf("value does not match any of the %d union variants", len(s.Variants)),
	}}
}

// checkTaggedUnion resolves the variant through the discriminator field. When
// the discriminator selects a variant, that variant's issues are reported at
// their natural paths. When it selects nothing, a single invalid_value issue
// is emitted at the discriminator path.
func (s *Schema) checkTaggedUnion(v any, path Path) []Issue {
	obj, ok := v.(map[string]any)
	if !ok {
		return []Issue{typeIssue(path, "object", v)}
	}
	tag, present := obj[s.Discriminator]
	discPath := path.Key(s.Discriminator)
	if !present {
		return []Issue{{
			Path:     discPath,
			Code:     CodeRequiredMissing,
			Expected: strings.Join(s.discriminatorValues(), " | "),
			Message:  fmt.Sprintf("required discriminator field %q is missing", s.Discriminator),
			Options:  s.discriminatorValues(),
		}}
	}
	for _, variant := range s.Variants {
		if variant.acceptsTag(s.Discriminator, tag) {
			return variant.check(v, path)
		}
	}
	return []Issue{{
		Path:     discPath,
		Code:     CodeInvalidValue,
		Expected: strings.Join(s.discriminatorValues(), " | "),
		Received: literalString(tag),
		Message:  fmt.Sprintf("invalid discriminator value %s, expected one of: %s", literalString(tag), strings.Join(s.discriminatorValues(), ", ")),
		Options:  s.discriminatorValues(),
	}}
}

// acceptsTag reports whether this variant's discriminator field accepts the
// given tag value.
func (s *Schema) acceptsTag(disc string, tag any) bool {
	if s == nil || s.Kind != KindObject {
		return false
	}
	f := s.FieldNamed(disc)
	if f == nil || f.Schema == nil {
		return false
	}
	return len(f.Schema.check(tag, nil)) == 0
}

// discriminatorValues collects the tag literals accepted across all variants.
func (s *Schema) discriminatorValues() []string {
	var out []string
	for _, variant := range s.Variants {
		if variant == nil || variant.Kind != KindObject {
			continue
		}
		f := variant.FieldNamed(s.Discriminator)
		if f == nil || f.Schema == nil || f.Schema.Kind != KindEnum {
			continue
		}
		out = append(out, literalStrings(f.Schema.Options)...)
	}
	return out
}

func matchesFormat(s string, f Format) bool {
	switch f {
	case FormatEmail:
		_, err := mail.ParseAddress(s)
		return err == nil
	case FormatURL:
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	case FormatUUID:
		return uuidRE.MatchString(s)
	default:
		return true
	}
}

func typeIssue(path Path, expected string, v any) Issue {
	return Issue{
		Path:     path,
		Code:     CodeInvalidType,
		Expected: expected,
		Received: TypeName(v),
		Message:  fmt.Sprintf("expected %s, got %s", expected, TypeName(v)),
	}
}

// TypeName reports the JSON type of a decoded value.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func fieldNames(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

// literalEqual compares two JSON literals, normalizing numeric types so that
// Go int options match decoded float64 values.
func literalEqual(a, b any) bool {
	an, aok := asFloat(a)
	bn, bok := asFloat(b)
	if aok && bok {
		return an == bn
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

func literalString(v any) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case float64:
		return formatNumber(t)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func literalStrings(options []any) []string {
	out := make([]string, len(options))
	for i, o := range options {
		switch t := o.(type) {
		case string:
			out[i] = t
		case float64:
			out[i] = formatNumber(t)
		default:
			out[i] = fmt.Sprintf("%v", t)
		}
	}
	return out
}
