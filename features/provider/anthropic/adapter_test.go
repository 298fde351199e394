package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persuadehq/persuade/runtime/provider"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
	calls      int
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	s.calls++
	return s.resp, s.err
}

func textMessage(text string) *sdk.Message {
	return &sdk.Message{
		ID:         "msg-1",
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-sonnet-4-5"})
	assert.Error(t, err)

	_, err = New(&stubMessagesClient{}, Options{})
	assert.Error(t, err)
}

func TestSendPromptOneShot(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("world")}
	a, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5", MaxTokens: 128, Temperature: 0.2})
	require.NoError(t, err)

	resp, err := a.SendPrompt(context.Background(), "", "hello", provider.Options{})
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Content)
	assert.Equal(t, provider.TokenUsage{Input: 10, Output: 5, Total: 15}, resp.Usage)
	assert.Equal(t, provider.StopEndTurn, resp.StopReason)

	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), stub.lastParams.Model)
	assert.Equal(t, int64(128), stub.lastParams.MaxTokens)
	require.Len(t, stub.lastParams.Messages, 1)
	assert.Empty(t, stub.lastParams.System)
}

func TestSendPromptOptionsOverrideDefaults(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("ok")}
	a, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	_, err = a.SendPrompt(context.Background(), "", "x", provider.Options{
		Model:     "claude-opus-4-1",
		MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.Model("claude-opus-4-1"), stub.lastParams.Model)
	assert.Equal(t, int64(64), stub.lastParams.MaxTokens)
}

func TestSessionTranscriptReplay(t *testing.T) {
	ctx := context.Background()
	stub := &stubMessagesClient{resp: textMessage("first reply")}
	a, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	psid, err := a.CreateSession(ctx, "You are terse.", provider.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, psid)

	_, err = a.SendPrompt(ctx, psid, "question one", provider.Options{})
	require.NoError(t, err)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "You are terse.", stub.lastParams.System[0].Text)
	assert.Len(t, stub.lastParams.Messages, 1)

	// Second prompt replays the first exchange.
	stub.resp = textMessage("second reply")
	_, err = a.SendPrompt(ctx, psid, "question two", provider.Options{})
	require.NoError(t, err)
	assert.Len(t, stub.lastParams.Messages, 3)

	// Destroyed sessions fall back to one-shot.
	require.NoError(t, a.DestroySession(ctx, psid))
	_, err = a.SendPrompt(ctx, psid, "question three", provider.Options{})
	require.NoError(t, err)
	assert.Len(t, stub.lastParams.Messages, 1)
	assert.Empty(t, stub.lastParams.System)

	require.NoError(t, a.DestroySession(ctx, "unknown"))
}

func TestTruncatedResponse(t *testing.T) {
	msg := textMessage("partial")
	msg.StopReason = sdk.StopReasonMaxTokens
	stub := &stubMessagesClient{resp: msg}
	a, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	resp, err := a.SendPrompt(context.Background(), "", "x", provider.Options{})
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Equal(t, provider.StopMaxTokens, resp.StopReason)
}

func TestErrorTranslation(t *testing.T) {
	stub := &stubMessagesClient{err: &sdk.Error{StatusCode: 429}}
	a, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	_, err = a.SendPrompt(context.Background(), "", "x", provider.Options{})
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.KindRateLimit, perr.Kind)
	assert.True(t, perr.Retryable)

	stub.err = errors.New("connection reset")
	_, err = a.SendPrompt(context.Background(), "", "x", provider.Options{})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.KindTransport, perr.Kind)
}

func TestHealthReportsFailure(t *testing.T) {
	stub := &stubMessagesClient{err: &sdk.Error{StatusCode: 503}}
	a, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	h, err := a.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.NotEmpty(t, h.Err)

	stub.err = nil
	stub.resp = textMessage("pong")
	h, err = a.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy)
}
