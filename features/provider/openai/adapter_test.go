package openai

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persuadehq/persuade/runtime/provider"
)

type stubChatClient struct {
	lastParams sdk.ChatCompletionNewParams
	resp       *sdk.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func completion(content, finishReason string) *sdk.ChatCompletion {
	return &sdk.ChatCompletion{
		ID: "cmpl-1",
		Choices: []sdk.ChatCompletionChoice{{
			Message:      sdk.ChatCompletionMessage{Content: content},
			FinishReason: finishReason,
		}},
		Usage: sdk.CompletionUsage{PromptTokens: 12, CompletionTokens: 6, TotalTokens: 18},
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "gpt-4o"})
	assert.Error(t, err)

	_, err = New(&stubChatClient{}, Options{})
	assert.Error(t, err)
}

func TestSendPromptOneShot(t *testing.T) {
	stub := &stubChatClient{resp: completion("answer", "stop")}
	a, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 256})
	require.NoError(t, err)

	resp, err := a.SendPrompt(context.Background(), "", "question", provider.Options{})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, provider.TokenUsage{Input: 12, Output: 6, Total: 18}, resp.Usage)
	assert.Equal(t, provider.StopEndTurn, resp.StopReason)
	assert.Equal(t, sdk.ChatModel("gpt-4o"), stub.lastParams.Model)
	require.Len(t, stub.lastParams.Messages, 1)
}

func TestSessionTranscriptReplay(t *testing.T) {
	ctx := context.Background()
	stub := &stubChatClient{resp: completion("first", "stop")}
	a, err := New(stub, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	psid, err := a.CreateSession(ctx, "Be brief.", provider.Options{})
	require.NoError(t, err)

	_, err = a.SendPrompt(ctx, psid, "one", provider.Options{})
	require.NoError(t, err)
	// System message plus the user turn.
	assert.Len(t, stub.lastParams.Messages, 2)

	stub.resp = completion("second", "stop")
	_, err = a.SendPrompt(ctx, psid, "two", provider.Options{})
	require.NoError(t, err)
	// System, first exchange, new user turn.
	assert.Len(t, stub.lastParams.Messages, 4)

	require.NoError(t, a.DestroySession(ctx, psid))
	_, err = a.SendPrompt(ctx, psid, "three", provider.Options{})
	require.NoError(t, err)
	assert.Len(t, stub.lastParams.Messages, 1)
}

type captureLogger struct {
	warns []string
}

func (l *captureLogger) Debug(context.Context, string, ...any) {}
func (l *captureLogger) Info(context.Context, string, ...any)  {}
func (l *captureLogger) Warn(_ context.Context, msg string, _ ...any) {
	l.warns = append(l.warns, msg)
}
func (l *captureLogger) Error(context.Context, string, ...any) {}

func TestStatelessWarnsOnSuppliedSessionID(t *testing.T) {
	logger := &captureLogger{}
	stub := &stubChatClient{resp: completion("answer", "stop")}
	a, err := New(stub, Options{DefaultModel: "gpt-4o", Stateless: true, Logger: logger})
	require.NoError(t, err)

	resp, err := a.SendPrompt(context.Background(), "stale-session", "question", provider.Options{})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	// The id resolves to no transcript; the prompt goes out alone.
	assert.Len(t, stub.lastParams.Messages, 1)
	require.Len(t, logger.warns, 1)
	assert.Contains(t, logger.warns[0], "stateless")

	logger.warns = nil
	_, err = a.SendPrompt(context.Background(), "", "question", provider.Options{})
	require.NoError(t, err)
	assert.Empty(t, logger.warns)
}

func TestStatelessRejectsCreateSession(t *testing.T) {
	a, err := New(&stubChatClient{}, Options{DefaultModel: "gpt-4o", Stateless: true})
	require.NoError(t, err)
	assert.False(t, a.SupportsSessions())

	_, err = a.CreateSession(context.Background(), "ctx", provider.Options{})
	assert.ErrorIs(t, err, provider.ErrSessionsUnsupported)
}

func TestTruncatedResponse(t *testing.T) {
	stub := &stubChatClient{resp: completion("partial", "length")}
	a, err := New(stub, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := a.SendPrompt(context.Background(), "", "x", provider.Options{})
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Equal(t, provider.StopMaxTokens, resp.StopReason)
}

func TestContentFilterBecomesPolicyError(t *testing.T) {
	stub := &stubChatClient{resp: completion("", "content_filter")}
	a, err := New(stub, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = a.SendPrompt(context.Background(), "", "x", provider.Options{})
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.KindContentPolicy, perr.Kind)
}

func TestEmptyChoicesIsRetryable(t *testing.T) {
	stub := &stubChatClient{resp: &sdk.ChatCompletion{}}
	a, err := New(stub, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = a.SendPrompt(context.Background(), "", "x", provider.Options{})
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.KindServerError, perr.Kind)
	assert.True(t, perr.Retryable)
}

func TestErrorTranslation(t *testing.T) {
	stub := &stubChatClient{err: &sdk.Error{StatusCode: 401}}
	a, err := New(stub, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = a.SendPrompt(context.Background(), "", "x", provider.Options{})
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.KindAuth, perr.Kind)
	assert.False(t, perr.Retryable)
}
