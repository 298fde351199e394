package validate

import (
	"fmt"
	"strings"

	"github.com/persuadehq/persuade/runtime/schema"
)

const separator = "----------------------------------------"

// GenerateSuggestions produces one human-readable suggestion per issue plus,
// whenever any issue exists, three general reminders. Enum mismatches carry
// "did you mean" candidates from the nearest-match finder.
func GenerateSuggestions(issues []schema.Issue, _ any, root *schema.Schema) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, 0, len(issues)+3)
	for _, issue := range issues {
		out = append(out, suggestionFor(issue, root))
	}
	out = append(out,
		"Ensure all required fields are present",
		"Check field names for typos",
		"Verify the JSON structure matches the expected schema",
	)
	return out
}

func suggestionFor(issue schema.Issue, root *schema.Schema) string {
	ci := schema.Classify(issue, root)
	loc := issue.Path.String()
	switch issue.Code {
	case schema.CodeInvalidEnum, schema.CodeInvalidValue:
		s := fmt.Sprintf("Field %q: invalid value %s, expected one of: %s", loc, issue.Received, strings.Join(ci.Options, ", "))
		if len(ci.Suggestions) > 0 {
			s += fmt.Sprintf(". Did you mean: %s?", strings.Join(ci.Suggestions, ", "))
		}
		return s
	case schema.CodeRequiredMissing:
		return fmt.Sprintf("Add the required field %q (%s)", loc, issue.Expected)
	case schema.CodeInvalidType:
		return fmt.Sprintf("Field %q: expected %s, got %s", loc, issue.Expected, issue.Received)
	case schema.CodeUnrecognizedKeys:
		s := fmt.Sprintf("Remove the unrecognized keys at %q: %s", loc, issue.Received)
		if len(issue.Options) > 0 {
			s += fmt.Sprintf(" (valid keys: %s)", strings.Join(issue.Options, ", "))
		}
		return s
	case schema.CodeInvalidFormat:
		return fmt.Sprintf("Field %q: value must be a valid %s", loc, issue.Expected)
	case schema.CodeInvalidUnion:
		return fmt.Sprintf("Field %q: %s", loc, issue.Message)
	default:
		return fmt.Sprintf("Field %q: %s", loc, issue.Message)
	}
}

// GenerateFieldCorrections produces one concise, directive correction per
// issue, suitable for a numbered checklist in a retry prompt.
func GenerateFieldCorrections(issues []schema.Issue, root *schema.Schema) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, correctionFor(issue, root))
	}
	return out
}

func correctionFor(issue schema.Issue, root *schema.Schema) string {
	ci := schema.Classify(issue, root)
	loc := issue.Path.String()
	directive := func(d string) string { return fmt.Sprintf("Field `%s`: %s", loc, d) }
	switch issue.Code {
	case schema.CodeTooSmall:
		if ci.Target != nil && ci.MinBound != nil {
			switch ci.Target.Kind {
			case schema.KindNumber:
				return directive(fmt.Sprintf("Increase value to at least %v", *ci.MinBound))
			case schema.KindString:
				return directive(fmt.Sprintf("Lengthen to at least %v characters", *ci.MinBound))
			case schema.KindArray:
				return directive(fmt.Sprintf("Provide at least %v items", *ci.MinBound))
			}
		}
		return directive(issue.Message)
	case schema.CodeTooBig:
		if ci.Target != nil && ci.MaxBound != nil {
			switch ci.Target.Kind {
			case schema.KindNumber:
				return directive(fmt.Sprintf("Decrease value to at most %v", *ci.MaxBound))
			case schema.KindString:
				return directive(fmt.Sprintf("Shorten to at most %v characters", *ci.MaxBound))
			case schema.KindArray:
				return directive(fmt.Sprintf("Provide at most %v items", *ci.MaxBound))
			}
		}
		return directive(issue.Message)
	case schema.CodeInvalidType:
		return directive(fmt.Sprintf("Change type to %s", issue.Expected))
	case schema.CodeRequiredMissing:
		return directive(fmt.Sprintf("Add this required field (%s)", issue.Expected))
	case schema.CodeInvalidEnum, schema.CodeInvalidValue:
		return directive(fmt.Sprintf("Use one of: %s", strings.Join(ci.Options, ", ")))
	case schema.CodeInvalidFormat:
		return directive(fmt.Sprintf("Format as a valid %s", issue.Expected))
	case schema.CodeUnrecognizedKeys:
		return directive(fmt.Sprintf("Remove keys: %s", issue.Received))
	case schema.CodeInvalidUnion:
		return directive("Restructure the value to match one of the union variants")
	default:
		return directive(issue.Message)
	}
}

// FormatRetryFeedback composes the corrective message sent back to the LLM
// for the given attempt. It is purely functional of (err, attempt,
// maxAttempts): the same inputs always produce the same message. Urgency
// escalates with the attempt number and a final-attempt warning is appended
// on the last configured attempt.
func FormatRetryFeedback(err *ValidationError, attempt, maxAttempts int) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	if attempt >= 2 {
		b.WriteString(separator)
		b.WriteByte('\n')
	}
	b.WriteString(urgencyPrefix(attempt))
	if err.Kind == FailureJSONParse {
		formatParseFeedback(&b, err, attempt)
	} else {
		formatSchemaFeedback(&b, err, attempt)
	}
	if attempt >= maxAttempts {
		b.WriteString("\nWARNING: This is the final attempt. Respond with valid JSON matching the schema or the operation will fail.")
	}
	return b.String()
}

func urgencyPrefix(attempt int) string {
	switch {
	case attempt >= 3:
		return "CRITICAL: "
	case attempt == 2:
		return "IMPORTANT: "
	default:
		return ""
	}
}

func formatParseFeedback(b *strings.Builder, err *ValidationError, attempt int) {
	if attempt <= 2 {
		b.WriteString("Your previous response could not be parsed as JSON.\n")
		fmt.Fprintf(b, "Parser error: %s\n", err.Message)
		b.WriteString("The entire response must be valid JSON: every brace, bracket and quote must be matched, and no prose may appear outside the JSON value.")
		return
	}
	b.WriteString("Your previous response was still not valid JSON.\n")
	fmt.Fprintf(b, "Parser error: %s\n", err.Message)
	b.WriteString("Your reply MUST start with { and end with }.\n")
	b.WriteString("Do NOT include any text, explanation or markdown outside the JSON value.\n")
	b.WriteString("Output exactly one JSON object and nothing else.")
}

func formatSchemaFeedback(b *strings.Builder, err *ValidationError, attempt int) {
	fmt.Fprintf(b, "Schema Validation Failed (Attempt %d)\n", attempt)
	fmt.Fprintf(b, "Expected: %s\n", err.SchemaDescription)
	b.WriteString("Issues:\n")
	for _, issue := range err.Issues {
		fmt.Fprintf(b, "- %s: %s\n", issue.Path, issue.Message)
	}
	if fb := err.Feedback; fb != nil && len(fb.Corrections) > 0 {
		b.WriteString("Required corrections:\n")
		for i, c := range fb.Corrections {
			fmt.Fprintf(b, "%d. %s\n", i+1, c)
		}
	}
	if len(err.Suggestions) > 0 {
		b.WriteString("Suggestions:\n")
		for _, s := range err.Suggestions {
			fmt.Fprintf(b, "- %s\n", s)
		}
	}
	if attempt >= 2 && err.Feedback != nil {
		b.WriteString("Structured guidance:\n")
		fmt.Fprintf(b, "Problem: %s\n", err.Feedback.Summary)
		b.WriteString("Specific issues:\n")
		for _, line := range err.Feedback.Issues {
			fmt.Fprintf(b, "- %s\n", line)
		}
		b.WriteString("Apply the required corrections in the numbered order above.")
	}
	if attempt >= 3 {
		b.WriteString("\nRespond with ONLY the corrected JSON object. Do not repeat the previous mistakes and do not add commentary.")
	}
}
