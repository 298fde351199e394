// Package anthropic provides a provider.Adapter backed by the Anthropic
// Claude Messages API. The Messages API is stateless, so the adapter keeps
// per-session transcripts client-side and replays them on every call, which
// lets the runtime treat Claude as a session-capable backend.
package anthropic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/persuadehq/persuade/runtime/provider"
)

const (
	adapterName    = "anthropic"
	adapterVersion = "0.1.0"

	// defaultMaxTokens caps completions when neither the adapter nor the call
	// specifies a limit.
	defaultMaxTokens = 4096
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter.
	Options struct {
		// DefaultModel is the Claude model identifier used when a call does
		// not specify one. Required.
		DefaultModel string

		// MaxTokens sets the default completion cap. Zero means
		// defaultMaxTokens.
		MaxTokens int

		// Temperature is used when a call does not specify one.
		Temperature float64
	}

	// Adapter implements provider.Adapter on top of Anthropic Claude
	// Messages.
	Adapter struct {
		msg          MessagesClient
		defaultModel string
		maxTokens    int
		temperature  float64

		mu       sync.Mutex
		sessions map[string]*transcript
	}

	// transcript is the client-side conversation state for one provider
	// session.
	transcript struct {
		system string
		turns  []sdk.MessageParam
	}
)

// New builds an adapter from the provided Messages client and options.
func New(msg MessagesClient, opts Options) (*Adapter, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Adapter{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
		sessions:     make(map[string]*transcript),
	}, nil
}

// NewFromAPIKey constructs an adapter using the default Anthropic HTTP
// client.
func NewFromAPIKey(apiKey, defaultModel string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return adapterName }

// Version implements provider.Adapter.
func (a *Adapter) Version() string { return adapterVersion }

// SupportsSessions implements provider.Adapter. Sessions are emulated with
// client-side transcripts.
func (a *Adapter) SupportsSessions() bool { return true }

// SupportedModels implements provider.Adapter. Model identifiers are passed
// through unchecked; Anthropic rejects unknown ones.
func (a *Adapter) SupportedModels() []string { return nil }

// Health implements provider.Adapter by issuing a minimal one-token request.
func (a *Adapter) Health(ctx context.Context) (provider.Health, error) {
	start := time.Now()
	_, err := a.msg.New(ctx, sdk.MessageNewParams{
		MaxTokens: 1,
		Model:     sdk.Model(a.defaultModel),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
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

// SendPrompt implements provider.Adapter. When providerSessionID names a
// known transcript the prior turns are replayed and the exchange is appended
// to it; otherwise the prompt is sent one-shot.
func (a *Adapter) SendPrompt(ctx context.Context, providerSessionID, prompt string, opts provider.Options) (*provider.Response, error) {
	params := sdk.MessageNewParams{
		MaxTokens: int64(a.effectiveMaxTokens(opts.MaxTokens)),
		Model:     sdk.Model(a.effectiveModel(opts.Model)),
	}
	if t := a.effectiveTemperature(opts.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if opts.TopP > 0 {
		params.TopP = sdk.Float(opts.TopP)
	}

	userTurn := sdk.NewUserMessage(sdk.NewTextBlock(prompt))

	a.mu.Lock()
	tr := a.sessions[providerSessionID]
	if tr != nil {
		if tr.system != "" {
			params.System = []sdk.TextBlockParam{{Text: tr.system}}
		}
		params.Messages = append(append([]sdk.MessageParam{}, tr.turns...), userTurn)
	} else {
		params.Messages = []sdk.MessageParam{userTurn}
	}
	a.mu.Unlock()

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}
	resp := translateResponse(msg)

	if tr != nil {
		a.mu.Lock()
		// The session may have been destroyed while the request was in
		// flight; only append when it still exists.
		if cur, ok := a.sessions[providerSessionID]; ok && cur == tr {
			tr.turns = append(tr.turns, userTurn, sdk.NewAssistantMessage(sdk.NewTextBlock(resp.Content)))
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

func translateResponse(msg *sdk.Message) *provider.Response {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	resp := &provider.Response{
		Content: sb.String(),
		Usage: provider.TokenUsage{
			Input:  int(msg.Usage.InputTokens),
			Output: int(msg.Usage.OutputTokens),
			Total:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Metadata: map[string]any{
			"message_id": msg.ID,
			"model":      string(msg.Model),
		},
	}
	switch string(msg.StopReason) {
	case "end_turn":
		resp.StopReason = provider.StopEndTurn
	case "max_tokens":
		resp.StopReason = provider.StopMaxTokens
		resp.Truncated = true
	case "stop_sequence":
		resp.StopReason = provider.StopStopSequence
	default:
		resp.StopReason = provider.StopOther
	}
	return resp
}

// translateError maps SDK failures onto the provider error taxonomy so the
// retry loop can classify them.
func translateError(err error) *provider.Error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		msg := "anthropic api error"
		// Error() formats from the HTTP exchange, which mocks may not carry.
		if apierr.Request != nil && apierr.Response != nil {
			msg = apierr.Error()
		}
		return provider.FromStatus(apierr.StatusCode, msg, err)
	}
	return provider.Wrap(err)
}
