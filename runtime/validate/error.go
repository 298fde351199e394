package validate

import (
	"fmt"

	"github.com/persuadehq/persuade/runtime/schema"
)

type (
	// ValidationError groups the failures of one validation attempt together
	// with the corrective material derived from them. It is the unit the retry
	// loop feeds back to the feedback formatter.
	ValidationError struct {
		// Kind distinguishes JSON syntax failures from schema mismatches.
		Kind FailureKind `json:"kind"`
		// Message is a human-readable summary.
		Message string `json:"message"`
		// Issues lists the structural failures. Empty for parse failures.
		Issues []schema.Issue `json:"issues,omitempty"`
		// Raw is the value that failed: the parsed value for schema failures,
		// the trimmed raw text for parse failures.
		Raw any `json:"raw,omitempty"`
		// SchemaDescription is the one-line description of the expected shape.
		SchemaDescription string `json:"schema_description,omitempty"`
		// Suggestions holds the generated human suggestions.
		Suggestions []string `json:"suggestions,omitempty"`
		// RetryStrategy tags how the next attempt should correct course.
		RetryStrategy RetryStrategy `json:"retry_strategy"`
		// Feedback is the structured corrective block for retry prompts.
		Feedback *Feedback `json:"feedback,omitempty"`
	}

	// Feedback is the structured guidance block attached to a ValidationError:
	// a problem summary, the specific issues, and the corrections to apply in
	// order.
	Feedback struct {
		Summary     string   `json:"summary"`
		Issues      []string `json:"issues"`
		Corrections []string `json:"corrections"`
	}

	// FailureKind identifies the class of validation failure.
	FailureKind string

	// RetryStrategy tags the corrective approach for the next attempt.
	RetryStrategy string
)

// Validation failure kinds.
const (
	// FailureJSONParse means the response was not syntactically valid JSON.
	FailureJSONParse FailureKind = "json_parse"
	// FailureSchema means the response parsed but violated the schema.
	FailureSchema FailureKind = "schema_validation"
)

// Retry strategies.
const (
	// StrategyReformatJSON asks the model to re-emit well-formed JSON.
	StrategyReformatJSON RetryStrategy = "reformat_json"
	// StrategyCorrectFields asks the model to fix specific fields.
	StrategyCorrectFields RetryStrategy = "correct_fields"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%d issues)", e.Kind, e.Message, len(e.Issues))
}
