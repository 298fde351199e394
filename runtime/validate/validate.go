// Package validate turns raw LLM output into schema-accepted values and, when
// that fails, into corrective feedback the model can act on. It hosts both the
// JSON/schema validator and the feedback formatter: the two are tightly
// coupled because every validation failure must be expressible as a repair
// instruction.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/persuadehq/persuade/runtime/schema"
)

// Validate parses raw text as JSON and checks it against the schema. On
// success the decoded value is returned. On failure the ValidationError
// carries every issue found (traversal is exhaustive), the generated
// suggestions and field corrections, and the structured feedback block used
// by retry prompts.
func Validate(s *schema.Schema, raw string) (any, *ValidationError) {
	trimmed := strings.TrimSpace(raw)

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return nil, &ValidationError{
			Kind:              FailureJSONParse,
			Message:           fmt.Sprintf("response is not valid JSON: %v", err),
			Raw:               trimmed,
			SchemaDescription: schema.Describe(s),
			Suggestions: []string{
				fmt.Sprintf("JSON syntax error: %v", err),
				"The entire response must be valid JSON with no surrounding text",
			},
			RetryStrategy: StrategyReformatJSON,
			Feedback: &Feedback{
				Summary:     "The response could not be parsed as JSON",
				Issues:      []string{fmt.Sprintf("syntax error: %v", err)},
				Corrections: []string{"Re-emit the response as a single well-formed JSON value"},
			},
		}
	}

	issues := s.Check(value)
	if len(issues) == 0 {
		return value, nil
	}

	suggestions := GenerateSuggestions(issues, value, s)
	corrections := GenerateFieldCorrections(issues, s)
	issueLines := make([]string, len(issues))
	for i, issue := range issues {
		issueLines[i] = fmt.Sprintf("%s: %s", issue.Path, issue.Message)
	}
	return nil, &ValidationError{
		Kind:              FailureSchema,
		Message:           fmt.Sprintf("response does not match the expected schema (%d issues)", len(issues)),
		Issues:            issues,
		Raw:               value,
		SchemaDescription: schema.Describe(s),
		Suggestions:       suggestions,
		RetryStrategy:     StrategyCorrectFields,
		Feedback: &Feedback{
			Summary:     fmt.Sprintf("%d schema violations in the response", len(issues)),
			Issues:      issueLines,
			Corrections: corrections,
		},
	}
}
