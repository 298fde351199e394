package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/persuadehq/persuade/runtime/provider"
)

// TimeLayout is the persisted timestamp format: ISO-8601 with millisecond
// precision and explicit UTC offset.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

type (
	wireProviderData struct {
		ProviderSessionID string `json:"provider_session_id,omitempty"`
	}

	wireMetadata struct {
		Provider     string              `json:"provider"`
		Model        string              `json:"model"`
		PromptCount  int                 `json:"prompt_count"`
		TotalTokens  provider.TokenUsage `json:"total_tokens"`
		LastActivity string              `json:"last_activity"`
		Active       bool                `json:"active"`
		Tags         []string            `json:"tags,omitempty"`
		CreatedAt    string              `json:"created_at"`
	}

	wireFeedback struct {
		Message       string         `json:"message"`
		Output        any            `json:"output"`
		AttemptNumber int            `json:"attempt_number"`
		Timestamp     string         `json:"timestamp"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}

	wireMetrics struct {
		TotalOperations       int                 `json:"total_operations"`
		TotalAttempts         int                 `json:"total_attempts"`
		SuccessfulValidations int                 `json:"successful_validations"`
		MeanAttemptsToSuccess float64             `json:"mean_attempts_to_success"`
		SuccessRate           float64             `json:"success_rate"`
		LastSuccessAt         string              `json:"last_success_at,omitempty"`
		TotalExecutionMS      int64               `json:"total_execution_ms"`
		MeanExecutionMS       int64               `json:"mean_execution_ms"`
		TotalTokens           provider.TokenUsage `json:"total_tokens"`
		ReinforcementTokens   int                 `json:"reinforcement_tokens"`
		OperationsWithRetries int                 `json:"operations_with_retries"`
		MaxAttempts           int                 `json:"max_attempts"`
	}
)

// MarshalRecord serializes a session to its persisted JSON form. Unknown
// fields captured in Extra are written back so records produced by newer
// versions survive a round-trip.
func MarshalRecord(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session: marshal nil session")
	}
	doc := make(map[string]json.RawMessage, len(s.Extra)+6)
	for k, v := range s.Extra {
		doc[k] = v
	}
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("session: marshal %s: %w", key, err)
		}
		doc[key] = b
		return nil
	}
	feedback := make([]wireFeedback, len(s.SuccessFeedback))
	for i, e := range s.SuccessFeedback {
		feedback[i] = wireFeedback{
			Message:       e.Message,
			Output:        e.Output,
			AttemptNumber: e.AttemptNumber,
			Timestamp:     FormatTime(e.Timestamp),
			Metadata:      e.Metadata,
		}
	}
	metrics := wireMetrics{
		TotalOperations:       s.Metrics.TotalOperations,
		TotalAttempts:         s.Metrics.TotalAttempts,
		SuccessfulValidations: s.Metrics.SuccessfulValidations,
		MeanAttemptsToSuccess: s.Metrics.MeanAttemptsToSuccess,
		SuccessRate:           s.Metrics.SuccessRate,
		TotalExecutionMS:      s.Metrics.TotalExecutionTime.Milliseconds(),
		MeanExecutionMS:       s.Metrics.MeanExecutionTime.Milliseconds(),
		TotalTokens:           s.Metrics.TotalTokens,
		ReinforcementTokens:   s.Metrics.ReinforcementTokens,
		OperationsWithRetries: s.Metrics.OperationsWithRetries,
		MaxAttempts:           s.Metrics.MaxAttempts,
	}
	if s.Metrics.LastSuccessAt != nil {
		metrics.LastSuccessAt = FormatTime(*s.Metrics.LastSuccessAt)
	}
	for key, v := range map[string]any{
		"id":      s.ID,
		"context": s.Context,
		"provider_data": wireProviderData{
			ProviderSessionID: s.ProviderData.ProviderSessionID,
		},
		"metadata": wireMetadata{
			Provider:     s.Metadata.Provider,
			Model:        s.Metadata.Model,
			PromptCount:  s.Metadata.PromptCount,
			TotalTokens:  s.Metadata.TotalTokens,
			LastActivity: FormatTime(s.Metadata.LastActivity),
			Active:       s.Metadata.Active,
			Tags:         s.Metadata.Tags,
			CreatedAt:    FormatTime(s.Metadata.CreatedAt),
		},
		"success_feedback": feedback,
		"metrics":          metrics,
	} {
		if err := set(key, v); err != nil {
			return nil, err
		}
	}
	return json.Marshal(doc)
}

// UnmarshalRecord parses a persisted JSON record into a Session. Top-level
// fields the codec does not recognize are preserved in Extra.
func UnmarshalRecord(data []byte) (*Session, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("session: parse record: %w", err)
	}
	s := &Session{}
	take := func(key string, dst any) error {
		raw, ok := doc[key]
		if !ok {
			return nil
		}
		delete(doc, key)
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("session: parse %s: %w", key, err)
		}
		return nil
	}

	var (
		pd       wireProviderData
		md       wireMetadata
		feedback []wireFeedback
		metrics  wireMetrics
	)
	if err := take("id", &s.ID); err != nil {
		return nil, err
	}
	if err := take("context", &s.Context); err != nil {
		return nil, err
	}
	if err := take("provider_data", &pd); err != nil {
		return nil, err
	}
	if err := take("metadata", &md); err != nil {
		return nil, err
	}
	if err := take("success_feedback", &feedback); err != nil {
		return nil, err
	}
	if err := take("metrics", &metrics); err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, fmt.Errorf("session: record missing id")
	}

	s.ProviderData.ProviderSessionID = pd.ProviderSessionID
	lastActivity, err := ParseTime(md.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("session: parse last_activity: %w", err)
	}
	createdAt, err := ParseTime(md.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("session: parse created_at: %w", err)
	}
	s.Metadata = Metadata{
		Provider:     md.Provider,
		Model:        md.Model,
		PromptCount:  md.PromptCount,
		TotalTokens:  md.TotalTokens,
		LastActivity: lastActivity,
		Active:       md.Active,
		Tags:         md.Tags,
		CreatedAt:    createdAt,
	}
	if len(feedback) > 0 {
		s.SuccessFeedback = make([]FeedbackEntry, len(feedback))
		for i, e := range feedback {
			ts, err := ParseTime(e.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("session: parse success_feedback[%d].timestamp: %w", i, err)
			}
			s.SuccessFeedback[i] = FeedbackEntry{
				Message:       e.Message,
				Output:        e.Output,
				AttemptNumber: e.AttemptNumber,
				Timestamp:     ts,
				Metadata:      e.Metadata,
			}
		}
	}
	s.Metrics = Metrics{
		TotalOperations:       metrics.TotalOperations,
		TotalAttempts:         metrics.TotalAttempts,
		SuccessfulValidations: metrics.SuccessfulValidations,
		MeanAttemptsToSuccess: metrics.MeanAttemptsToSuccess,
		SuccessRate:           metrics.SuccessRate,
		TotalExecutionTime:    time.Duration(metrics.TotalExecutionMS) * time.Millisecond,
		MeanExecutionTime:     time.Duration(metrics.MeanExecutionMS) * time.Millisecond,
		TotalTokens:           metrics.TotalTokens,
		ReinforcementTokens:   metrics.ReinforcementTokens,
		OperationsWithRetries: metrics.OperationsWithRetries,
		MaxAttempts:           metrics.MaxAttempts,
	}
	if metrics.LastSuccessAt != "" {
		at, err := ParseTime(metrics.LastSuccessAt)
		if err != nil {
			return nil, fmt.Errorf("session: parse last_success_at: %w", err)
		}
		s.Metrics.LastSuccessAt = &at
	}
	if len(doc) > 0 {
		s.Extra = doc
	}
	return s, nil
}

// FormatTime renders a timestamp in the persisted layout. Times are
// normalized to UTC and truncated to millisecond precision.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(TimeLayout)
	}
	return t.UTC().Truncate(time.Millisecond).Format(TimeLayout)
}

// ParseTime accepts the persisted layout plus any RFC 3339 variant so records
// written by other tooling still load.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
