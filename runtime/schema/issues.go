package schema

import (
	"fmt"
	"strings"
)

type (
	// Issue records a single validation failure at one location in the value.
	Issue struct {
		// Path locates the failing value. Empty for the root.
		Path Path `json:"path"`
		// Code classifies the failure.
		Code Code `json:"code"`
		// Expected describes what the schema required, when applicable.
		Expected string `json:"expected,omitempty"`
		// Received describes the offending value, when applicable.
		Received string `json:"received,omitempty"`
		// Message is a human-readable explanation.
		Message string `json:"message"`
		// Options lists the valid choices when the failure is a closed set
		// mismatch (enums, union discriminators, object keys).
		Options []string `json:"options,omitempty"`
	}

	// Path is an ordered sequence of object keys (string) and array indices
	// (int) from the root to a value.
	Path []any

	// Code is a validation failure code from a closed set.
	Code string
)

// Validation failure codes.
const (
	CodeInvalidType      Code = "invalid_type"
	CodeTooSmall         Code = "too_small"
	CodeTooBig           Code = "too_big"
	CodeInvalidValue     Code = "invalid_value"
	CodeInvalidEnum      Code = "invalid_enum"
	CodeInvalidFormat    Code = "invalid_format"
	CodeUnrecognizedKeys Code = "unrecognized_keys"
	CodeInvalidUnion     Code = "invalid_union"
	CodeRequiredMissing  Code = "required_missing"
	CodeCustom           Code = "custom"
)

// Key extends the path with an object key.
func (p Path) Key(k string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, k)
}

// Index extends the path with an array index.
func (p Path) Index(i int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, i)
}

// String renders the path in dotted form ("user.tags[2]"). The empty path
// renders as "(root)".
func (p Path) String() string {
	if len(p) == 0 {
		return "(root)"
	}
	var b strings.Builder
	for _, seg := range p {
		switch v := seg.(type) {
		case string:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		default:
			fmt.Fprintf(&b, "%v", v)
		}
	}
	return b.String()
}
