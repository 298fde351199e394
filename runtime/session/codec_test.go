package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persuadehq/persuade/runtime/provider"
)

func sampleSession(t *testing.T) *Session {
	t.Helper()
	created := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	success := created.Add(2 * time.Minute)
	return &Session{
		ID:      "sess-42",
		Context: "You extract structured data.",
		ProviderData: ProviderData{
			ProviderSessionID: "prov-abc",
		},
		Metadata: Metadata{
			Provider:     "anthropic",
			Model:        "claude-sonnet-4-5",
			PromptCount:  7,
			TotalTokens:  provider.TokenUsage{Input: 900, Output: 400, Total: 1300},
			LastActivity: success,
			Active:       true,
			Tags:         []string{"extraction", "prod"},
			CreatedAt:    created,
		},
		SuccessFeedback: []FeedbackEntry{
			{
				Message:       "Perfect, keep that format.",
				Output:        map[string]any{"name": "Ada"},
				AttemptNumber: 1,
				Timestamp:     created.Add(time.Minute),
			},
		},
		Metrics: Metrics{
			TotalOperations:       3,
			TotalAttempts:         5,
			SuccessfulValidations: 2,
			MeanAttemptsToSuccess: 1.5,
			SuccessRate:           2.0 / 3.0,
			LastSuccessAt:         &success,
			TotalExecutionTime:    4200 * time.Millisecond,
			MeanExecutionTime:     1400 * time.Millisecond,
			TotalTokens:           provider.TokenUsage{Input: 900, Output: 400, Total: 1300},
			ReinforcementTokens:   35,
			OperationsWithRetries: 1,
			MaxAttempts:           3,
		},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	in := sampleSession(t)
	data, err := MarshalRecord(in)
	require.NoError(t, err)

	out, err := UnmarshalRecord(data)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Context, out.Context)
	assert.Equal(t, in.ProviderData, out.ProviderData)
	assert.Equal(t, in.Metadata, out.Metadata)
	assert.Equal(t, in.Metrics, out.Metrics)
	require.Len(t, out.SuccessFeedback, 1)
	assert.Equal(t, in.SuccessFeedback[0].Message, out.SuccessFeedback[0].Message)
	assert.Equal(t, in.SuccessFeedback[0].AttemptNumber, out.SuccessFeedback[0].AttemptNumber)
	assert.True(t, in.SuccessFeedback[0].Timestamp.Equal(out.SuccessFeedback[0].Timestamp))
}

func TestRecordTimestampFormat(t *testing.T) {
	data, err := MarshalRecord(sampleSession(t))
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	var md struct {
		CreatedAt    string `json:"created_at"`
		LastActivity string `json:"last_activity"`
	}
	require.NoError(t, json.Unmarshal(doc["metadata"], &md))
	assert.Equal(t, "2026-03-14T09:26:53.589Z", md.CreatedAt)
	assert.Equal(t, "2026-03-14T09:28:53.589Z", md.LastActivity)
}

func TestRecordPreservesUnknownFields(t *testing.T) {
	data, err := MarshalRecord(sampleSession(t))
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["future_field"] = json.RawMessage(`{"nested":true}`)
	doc["vendor_hint"] = json.RawMessage(`"keep-me"`)
	withUnknown, err := json.Marshal(doc)
	require.NoError(t, err)

	sess, err := UnmarshalRecord(withUnknown)
	require.NoError(t, err)
	require.Contains(t, sess.Extra, "future_field")
	require.Contains(t, sess.Extra, "vendor_hint")

	again, err := MarshalRecord(sess)
	require.NoError(t, err)
	var round map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(again, &round))
	assert.JSONEq(t, `{"nested":true}`, string(round["future_field"]))
	assert.JSONEq(t, `"keep-me"`, string(round["vendor_hint"]))
}

func TestUnmarshalRecordRejectsBadInput(t *testing.T) {
	_, err := UnmarshalRecord([]byte(`not json`))
	assert.Error(t, err)

	_, err = UnmarshalRecord([]byte(`{"context":"missing id"}`))
	assert.Error(t, err)
}

func TestParseTimeAcceptsRFC3339(t *testing.T) {
	parsed, err := ParseTime("2026-03-14T09:26:53Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, parsed.Year())
}
