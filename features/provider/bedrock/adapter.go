// Package bedrock provides a provider.Adapter backed by the AWS Bedrock
// Converse API. Converse is stateless, so the adapter keeps per-session
// transcripts client-side and replays them on every call.
package bedrock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"

	"github.com/persuadehq/persuade/runtime/provider"
)

const (
	adapterName    = "bedrock"
	adapterVersion = "0.1.0"
)

type (
	// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
	// required by the adapter. It matches *bedrockruntime.Client so callers
	// can pass either the real client or a mock in tests.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the adapter.
	Options struct {
		// Runtime provides access to the Bedrock runtime. Required.
		Runtime RuntimeClient

		// DefaultModel is the model identifier used when a call does not
		// specify one. Required.
		DefaultModel string

		// MaxTokens sets the default completion cap. Zero leaves the cap to
		// Bedrock.
		MaxTokens int

		// Temperature is used when a call does not specify one.
		Temperature float64
	}

	// Adapter implements provider.Adapter on top of AWS Bedrock Converse.
	Adapter struct {
		runtime      RuntimeClient
		defaultModel string
		maxTokens    int
		temperature  float64

		mu       sync.Mutex
		sessions map[string]*transcript
	}

	transcript struct {
		system string
		turns  []brtypes.Message
	}
)

// New builds an adapter from the provided runtime client and options.
func New(opts Options) (*Adapter, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Adapter{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		sessions:     make(map[string]*transcript),
	}, nil
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return adapterName }

// Version implements provider.Adapter.
func (a *Adapter) Version() string { return adapterVersion }

// SupportsSessions implements provider.Adapter.
func (a *Adapter) SupportsSessions() bool { return true }

// SupportedModels implements provider.Adapter. Model identifiers are passed
// through unchecked.
func (a *Adapter) SupportedModels() []string { return nil }

// Health implements provider.Adapter by issuing a minimal one-token request.
func (a *Adapter) Health(ctx context.Context) (provider.Health, error) {
	start := time.Now()
	_, err := a.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(a.defaultModel),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "ping"}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(1)},
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

// SendPrompt implements provider.Adapter.
func (a *Adapter) SendPrompt(ctx context.Context, providerSessionID, prompt string, opts provider.Options) (*provider.Response, error) {
	userTurn := brtypes.Message{
		Role:    brtypes.ConversationRoleUser,
		Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(a.effectiveModel(opts.Model)),
	}
	if cfg := a.inferenceConfig(opts); cfg != nil {
		input.InferenceConfig = cfg
	}

	a.mu.Lock()
	tr := a.sessions[providerSessionID]
	if tr != nil {
		if tr.system != "" {
			input.System = []brtypes.SystemContentBlock{
				&brtypes.SystemContentBlockMemberText{Value: tr.system},
			}
		}
		input.Messages = append(append([]brtypes.Message{}, tr.turns...), userTurn)
	} else {
		input.Messages = []brtypes.Message{userTurn}
	}
	a.mu.Unlock()

	output, err := a.runtime.Converse(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}
	resp := translateOutput(output)

	if tr != nil {
		a.mu.Lock()
		if cur, ok := a.sessions[providerSessionID]; ok && cur == tr {
			tr.turns = append(tr.turns, userTurn, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: resp.Content}},
			})
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

func (a *Adapter) inferenceConfig(opts provider.Options) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := opts.MaxTokens
	if tokens <= 0 {
		tokens = a.maxTokens
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // AWS SDK requires int32
	}
	temp := opts.Temperature
	if temp <= 0 {
		temp = a.temperature
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(float32(temp))
	}
	if opts.TopP > 0 {
		cfg.TopP = aws.Float32(float32(opts.TopP))
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil && cfg.TopP == nil {
		return nil
	}
	return &cfg
}

func translateOutput(output *bedrockruntime.ConverseOutput) *provider.Response {
	resp := &provider.Response{Metadata: map[string]any{}}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		var sb strings.Builder
		for _, block := range msg.Value.Content {
			if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
				sb.WriteString(text.Value)
			}
		}
		resp.Content = sb.String()
	}
	if u := output.Usage; u != nil {
		resp.Usage = provider.TokenUsage{
			Input:  int(aws.ToInt32(u.InputTokens)),
			Output: int(aws.ToInt32(u.OutputTokens)),
			Total:  int(aws.ToInt32(u.TotalTokens)),
		}
	}
	switch output.StopReason {
	case brtypes.StopReasonEndTurn:
		resp.StopReason = provider.StopEndTurn
	case brtypes.StopReasonMaxTokens:
		resp.StopReason = provider.StopMaxTokens
		resp.Truncated = true
	case brtypes.StopReasonStopSequence:
		resp.StopReason = provider.StopStopSequence
	default:
		resp.StopReason = provider.StopOther
	}
	return resp
}

// translateError maps smithy failures onto the provider error taxonomy.
// Bedrock signals most conditions through typed error codes rather than bare
// HTTP statuses.
func translateError(err error) *provider.Error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		status := 0
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) {
			status = respErr.HTTPStatusCode()
		}
		kind, retryable := classifyCode(apiErr.ErrorCode())
		return &provider.Error{
			Kind:      kind,
			Retryable: retryable,
			Status:    status,
			Message:   apiErr.ErrorMessage(),
			Details:   map[string]any{"code": apiErr.ErrorCode()},
			Cause:     err,
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return provider.FromStatus(respErr.HTTPStatusCode(), err.Error(), err)
	}
	return provider.Wrap(err)
}

func classifyCode(code string) (provider.ErrorKind, bool) {
	switch code {
	case "ThrottlingException", "TooManyRequestsException":
		return provider.KindRateLimit, true
	case "ValidationException":
		return provider.KindBadRequest, false
	case "AccessDeniedException", "UnauthorizedException":
		return provider.KindAuth, false
	case "ResourceNotFoundException":
		return provider.KindModelNotFound, false
	case "ModelTimeoutException":
		return provider.KindTimeout, true
	case "InternalServerException", "ServiceUnavailableException", "ModelErrorException":
		return provider.KindServerError, true
	default:
		return provider.KindUnknown, true
	}
}
