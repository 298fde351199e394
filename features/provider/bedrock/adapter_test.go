package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persuadehq/persuade/runtime/provider"
)

type stubRuntime struct {
	lastInput *bedrockruntime.ConverseInput
	output    *bedrockruntime.ConverseOutput
	err       error
}

func (s *stubRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastInput = params
	return s.output, s.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(20),
			OutputTokens: aws.Int32(8),
			TotalTokens:  aws.Int32(28),
		},
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{DefaultModel: "anthropic.claude-sonnet-4-5"})
	assert.Error(t, err)

	_, err = New(Options{Runtime: &stubRuntime{}})
	assert.Error(t, err)
}

func TestSendPromptOneShot(t *testing.T) {
	stub := &stubRuntime{output: textOutput("reply")}
	a, err := New(Options{Runtime: stub, DefaultModel: "anthropic.claude-sonnet-4-5", MaxTokens: 512})
	require.NoError(t, err)

	resp, err := a.SendPrompt(context.Background(), "", "question", provider.Options{})
	require.NoError(t, err)
	assert.Equal(t, "reply", resp.Content)
	assert.Equal(t, provider.TokenUsage{Input: 20, Output: 8, Total: 28}, resp.Usage)
	assert.Equal(t, provider.StopEndTurn, resp.StopReason)

	assert.Equal(t, "anthropic.claude-sonnet-4-5", aws.ToString(stub.lastInput.ModelId))
	require.NotNil(t, stub.lastInput.InferenceConfig)
	assert.Equal(t, int32(512), aws.ToInt32(stub.lastInput.InferenceConfig.MaxTokens))
	assert.Len(t, stub.lastInput.Messages, 1)
	assert.Empty(t, stub.lastInput.System)
}

func TestSessionTranscriptReplay(t *testing.T) {
	ctx := context.Background()
	stub := &stubRuntime{output: textOutput("first")}
	a, err := New(Options{Runtime: stub, DefaultModel: "anthropic.claude-sonnet-4-5"})
	require.NoError(t, err)

	psid, err := a.CreateSession(ctx, "Answer in French.", provider.Options{})
	require.NoError(t, err)

	_, err = a.SendPrompt(ctx, psid, "one", provider.Options{})
	require.NoError(t, err)
	require.Len(t, stub.lastInput.System, 1)
	assert.Len(t, stub.lastInput.Messages, 1)

	stub.output = textOutput("second")
	_, err = a.SendPrompt(ctx, psid, "two", provider.Options{})
	require.NoError(t, err)
	assert.Len(t, stub.lastInput.Messages, 3)

	require.NoError(t, a.DestroySession(ctx, psid))
	_, err = a.SendPrompt(ctx, psid, "three", provider.Options{})
	require.NoError(t, err)
	assert.Len(t, stub.lastInput.Messages, 1)
}

func TestTruncatedResponse(t *testing.T) {
	out := textOutput("partial")
	out.StopReason = brtypes.StopReasonMaxTokens
	stub := &stubRuntime{output: out}
	a, err := New(Options{Runtime: stub, DefaultModel: "anthropic.claude-sonnet-4-5"})
	require.NoError(t, err)

	resp, err := a.SendPrompt(context.Background(), "", "x", provider.Options{})
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Equal(t, provider.StopMaxTokens, resp.StopReason)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		code      string
		kind      provider.ErrorKind
		retryable bool
	}{
		{"ThrottlingException", provider.KindRateLimit, true},
		{"ValidationException", provider.KindBadRequest, false},
		{"AccessDeniedException", provider.KindAuth, false},
		{"ResourceNotFoundException", provider.KindModelNotFound, false},
		{"ModelTimeoutException", provider.KindTimeout, true},
		{"ServiceUnavailableException", provider.KindServerError, true},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			stub := &stubRuntime{err: &smithy.GenericAPIError{Code: tc.code, Message: "boom"}}
			a, err := New(Options{Runtime: stub, DefaultModel: "anthropic.claude-sonnet-4-5"})
			require.NoError(t, err)

			_, err = a.SendPrompt(context.Background(), "", "x", provider.Options{})
			var perr *provider.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.kind, perr.Kind)
			assert.Equal(t, tc.retryable, perr.Retryable)
		})
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	stub := &stubRuntime{err: errors.New("connection reset")}
	a, err := New(Options{Runtime: stub, DefaultModel: "anthropic.claude-sonnet-4-5"})
	require.NoError(t, err)

	_, err = a.SendPrompt(context.Background(), "", "x", provider.Options{})
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.KindTransport, perr.Kind)
	assert.True(t, perr.Retryable)
}
