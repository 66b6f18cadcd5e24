package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chatbi-ai/chatbi/pkg/errs"
)

// OpenAIConfig configures an OpenAI-compatible provider binding.
type OpenAIConfig struct {
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// openAIProvider implements Provider over the OpenAI chat-completions API.
// BaseURL makes it usable against any OpenAI-compatible endpoint.
type openAIProvider struct {
	client openai.Client
	cfg    OpenAIConfig
	log    *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg OpenAIConfig) Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	return &openAIProvider{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		log:    slog.Default().With("component", "llm", "model", cfg.Model),
	}
}

func (p *openAIProvider) Name() string { return p.cfg.Model }

func (p *openAIProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp == nil {
		temp = p.cfg.Temperature
	}
	if temp != nil {
		params.Temperature = openai.Float(*temp)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindTimeout, err, "llm call timed out")
		}
		return nil, errs.Wrap(errs.KindLLMUnavailable, err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errs.New(errs.KindLLMProtocol, "chat completion returned no choices")
	}

	p.log.Debug("Chat completion finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return &CompleteResponse{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
