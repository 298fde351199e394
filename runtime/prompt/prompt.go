// Package prompt composes the single prompt string sent to a provider from
// ordered, optional parts: durable context, per-call lens, a serialized
// example of valid output, the serialized input, and corrective feedback on
// retries. Composition is deterministic: the same parts always produce the
// same prompt.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/persuadehq/persuade/runtime/schema"
)

type (
	// Parts holds the ordered, optional building blocks of one prompt.
	Parts struct {
		// Context is the durable system instruction. It is included on the
		// first prompt of a session and omitted on subsequent prompts when the
		// session already carries it.
		Context string

		// Lens is the per-call perspective modifier.
		Lens string

		// Schema describes the expected output. Required.
		Schema *schema.Schema

		// Example is a value the schema accepts, serialized into the prompt to
		// prime the model. When nil, a synthetic example is generated from the
		// schema.
		Example any

		// Input is the caller's payload. Required.
		Input any

		// Feedback is the corrective message from the previous failed attempt.
		// Empty on the first attempt.
		Feedback string

		// OmitContext suppresses the context part even when set, used when the
		// active session already carries the instruction.
		OmitContext bool
	}
)

// Section headers. Feedback gets an explicit label so retry prompts append to
// prior content rather than replacing it.
const (
	exampleHeader  = "Example of valid output:"
	inputHeader    = "Input:"
	outputHeader   = "Respond with a single JSON value matching this shape:"
	feedbackHeader = "Previous attempt failed. Corrective feedback:"
)

// Build renders the prompt. The example is serialized as indented JSON; when
// Parts.Example is nil a synthetic one is generated from the schema.
func Build(p Parts) (string, error) {
	if p.Schema == nil {
		return "", fmt.Errorf("prompt: schema is required")
	}
	example := p.Example
	if example == nil {
		example = schema.Example(p.Schema)
	}
	exampleJSON, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return "", fmt.Errorf("prompt: marshal example: %w", err)
	}
	inputJSON, err := marshalInput(p.Input)
	if err != nil {
		return "", fmt.Errorf("prompt: marshal input: %w", err)
	}

	var sections []string
	if p.Context != "" && !p.OmitContext {
		sections = append(sections, p.Context)
	}
	if p.Lens != "" {
		sections = append(sections, fmt.Sprintf("Perspective: %s", p.Lens))
	}
	sections = append(sections,
		fmt.Sprintf("%s %s", outputHeader, schema.Describe(p.Schema)),
		fmt.Sprintf("%s\n%s", exampleHeader, exampleJSON),
		fmt.Sprintf("%s\n%s", inputHeader, inputJSON),
	)
	if p.Feedback != "" {
		sections = append(sections, fmt.Sprintf("%s\n%s", feedbackHeader, p.Feedback))
	}
	return strings.Join(sections, "\n\n"), nil
}

// marshalInput serializes the input payload. Strings pass through unquoted so
// plain-text inputs read naturally in the prompt.
func marshalInput(input any) (string, error) {
	if s, ok := input.(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
