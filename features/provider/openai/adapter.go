// Package openai provides a provider.Adapter backed by the OpenAI Chat
// Completions API. Like the Anthropic adapter it emulates sessions with
// client-side transcripts; NewLocal builds a stateless variant for
// OpenAI-compatible local servers where transcript replay is not wanted.
package openai

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/persuadehq/persuade/runtime/provider"
	"github.com/persuadehq/persuade/runtime/telemetry"
)

const (
	adapterName    = "openai"
	adapterVersion = "0.1.0"
)

type (
	// ChatClient captures the subset of the OpenAI SDK used by the adapter.
	// It is satisfied by *sdk.ChatCompletionService so callers can pass
	// either a real client or a mock in tests.
	ChatClient interface {
		New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	}

	// Options configures the adapter.
	Options struct {
		// DefaultModel is the model identifier used when a call does not
		// specify one. Required.
		DefaultModel string

		// MaxTokens sets the default completion cap. Zero leaves the cap to
		// the API.
		MaxTokens int

		// Temperature is used when a call does not specify one.
		Temperature float64

		// Stateless disables transcript sessions. Used for one-shot
		// OpenAI-compatible endpoints.
		Stateless bool

		// Logger receives adapter warnings. Nil means none.
		Logger telemetry.Logger
	}

	// Adapter implements provider.Adapter on top of OpenAI Chat Completions.
	Adapter struct {
		chat         ChatClient
		defaultModel string
		maxTokens    int
		temperature  float64
		stateless    bool
		logger       telemetry.Logger

		mu       sync.Mutex
		sessions map[string]*transcript
	}

	transcript struct {
		system string
		turns  []sdk.ChatCompletionMessageParamUnion
	}
)

// New builds an adapter from the provided chat client and options.
func New(chat ChatClient, opts Options) (*Adapter, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Adapter{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		stateless:    opts.Stateless,
		logger:       logger,
		sessions:     make(map[string]*transcript),
	}, nil
}

// NewFromAPIKey constructs an adapter using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Chat.Completions, Options{DefaultModel: defaultModel})
}

// NewLocal constructs a stateless adapter against an OpenAI-compatible server
// such as llama.cpp or vLLM. No API key is sent.
func NewLocal(baseURL, defaultModel string) (*Adapter, error) {
	if baseURL == "" {
		return nil, errors.New("openai: base url is required")
	}
	client := sdk.NewClient(option.WithBaseURL(baseURL))
	return New(&client.Chat.Completions, Options{DefaultModel: defaultModel, Stateless: true})
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return adapterName }

// Version implements provider.Adapter.
func (a *Adapter) Version() string { return adapterVersion }

// SupportsSessions implements provider.Adapter.
func (a *Adapter) SupportsSessions() bool { return !a.stateless }

// SupportedModels implements provider.Adapter. Model identifiers are passed
// through unchecked.
func (a *Adapter) SupportedModels() []string { return nil }

// Health implements provider.Adapter by issuing a minimal one-token request.
func (a *Adapter) Health(ctx context.Context) (provider.Health, error) {
	start := time.Now()
	_, err := a.chat.New(ctx, sdk.ChatCompletionNewParams{
		Model:               sdk.ChatModel(a.defaultModel),
		Messages:            []sdk.ChatCompletionMessageParamUnion{sdk.UserMessage("ping")},
		MaxCompletionTokens: sdk.Int(1),
	})
	h := provider.Health{
		Healthy:      err == nil,
		CheckedAt:    start,
		ResponseTime: time.Since(start),
		Details:      map[string]any{"model": a.defaultModel},
	}
	if err != nil {
		h.Err = translateError(err).Error()
	}
	return h, nil
}

// CreateSession implements provider.Adapter.
func (a *Adapter) CreateSession(_ context.Context, sessionContext string, _ provider.Options) (string, error) {
	if a.stateless {
		return "", provider.ErrSessionsUnsupported
	}
	id := uuid.NewString()
	a.mu.Lock()
	a.sessions[id] = &transcript{system: sessionContext}
	a.mu.Unlock()
	return id, nil
}

// DestroySession implements provider.Adapter. Unknown ids are a no-op.
func (a *Adapter) DestroySession(_ context.Context, providerSessionID string) error {
	a.mu.Lock()
	delete(a.sessions, providerSessionID)
	a.mu.Unlock()
	return nil
}

// SendPrompt implements provider.Adapter. Stateless adapters ignore supplied
// session ids and warn so callers notice the lost continuity.
func (a *Adapter) SendPrompt(ctx context.Context, providerSessionID, prompt string, opts provider.Options) (*provider.Response, error) {
	if a.stateless && providerSessionID != "" {
		a.logger.Warn(ctx, "session id supplied to stateless adapter, ignoring",
			"provider_session_id", providerSessionID)
	}
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(a.effectiveModel(opts.Model)),
	}
	if max := a.effectiveMaxTokens(opts.MaxTokens); max > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(max))
	}
	if t := a.effectiveTemperature(opts.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if opts.TopP > 0 {
		params.TopP = sdk.Float(opts.TopP)
	}

	userTurn := sdk.UserMessage(prompt)

	a.mu.Lock()
	tr := a.sessions[providerSessionID]
	if tr != nil {
		msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(tr.turns)+2)
		if tr.system != "" {
			msgs = append(msgs, sdk.SystemMessage(tr.system))
		}
		msgs = append(msgs, tr.turns...)
		params.Messages = append(msgs, userTurn)
	} else {
		params.Messages = []sdk.ChatCompletionMessageParamUnion{userTurn}
	}
	a.mu.Unlock()

	completion, err := a.chat.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}
	resp, err := translateResponse(completion)
	if err != nil {
		return nil, err
	}

	if tr != nil {
		a.mu.Lock()
		if cur, ok := a.sessions[providerSessionID]; ok && cur == tr {
			tr.turns = append(tr.turns, userTurn, sdk.AssistantMessage(resp.Content))
		}
		a.mu.Unlock()
	}
	return resp, nil
}

func (a *Adapter) effectiveModel(requested string) string {
	if requested != "" {
		return requested
	}
	return a.defaultModel
}

func (a *Adapter) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return a.maxTokens
}

func (a *Adapter) effectiveTemperature(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	return a.temperature
}

func translateResponse(completion *sdk.ChatCompletion) (*provider.Response, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, &provider.Error{
			Kind:      provider.KindServerError,
			Retryable: true,
			Message:   "openai: completion carried no choices",
		}
	}
	choice := completion.Choices[0]
	resp := &provider.Response{
		Content: choice.Message.Content,
		Usage: provider.TokenUsage{
			Input:  int(completion.Usage.PromptTokens),
			Output: int(completion.Usage.CompletionTokens),
			Total:  int(completion.Usage.TotalTokens),
		},
		Metadata: map[string]any{
			"completion_id": completion.ID,
			"model":         completion.Model,
		},
	}
	switch choice.FinishReason {
	case "stop":
		resp.StopReason = provider.StopEndTurn
	case "length":
		resp.StopReason = provider.StopMaxTokens
		resp.Truncated = true
	case "content_filter":
		return nil, &provider.Error{
			Kind:    provider.KindContentPolicy,
			Message: "openai: content filtered",
		}
	default:
		resp.StopReason = provider.StopOther
	}
	return resp, nil
}

// translateError maps SDK failures onto the provider error taxonomy.
func translateError(err error) *provider.Error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		msg := "openai api error"
		if apierr.Request != nil && apierr.Response != nil {
			msg = apierr.Error()
		}
		return provider.FromStatus(apierr.StatusCode, msg, err)
	}
	return provider.Wrap(err)
}
