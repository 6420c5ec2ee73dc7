package insight

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"

	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
)

// OpenAIConfig configures the chat completion client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	MaxRetries  int
	RetryDelay  time.Duration
}

// OpenAICompleter asks for JSON-object replies and retries failed calls with
// exponential delay.
type OpenAICompleter struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *logging.Logger

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

func NewOpenAICompleter(cfg OpenAIConfig, logger *logging.Logger) *OpenAICompleter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &OpenAICompleter{client: openai.NewClientWithConfig(clientCfg), cfg: cfg, logger: logger}
}

func (o *OpenAICompleter) Complete(ctx context.Context, messages []Message) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:          o.cfg.Model,
		Messages:       make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature:    o.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	delay := o.cfg.RetryDelay
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return Completion{}, errors.New(errors.KindDomain, "insight.openai", "no response choices")
			}
			o.promptTokens.Add(int64(resp.Usage.PromptTokens))
			o.completionTokens.Add(int64(resp.Usage.CompletionTokens))
			return Completion{
				Content:          resp.Choices[0].Message.Content,
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}, nil
		}

		lastErr = err
		o.logger.WarnTag("INSIGHT", "completion failed", "attempt", attempt, "error", err.Error())
		if attempt == o.cfg.MaxRetries {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Completion{}, errors.Wrap(errors.KindDomain, "insight.openai", "completion cancelled", ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	return Completion{}, errors.Wrap(errors.KindDomain, "insight.openai", "API call failed", lastErr)
}

// Usage reports tokens consumed since start.
func (o *OpenAICompleter) Usage() map[string]int64 {
	p, c := o.promptTokens.Load(), o.completionTokens.Load()
	return map[string]int64{"prompt_tokens": p, "completion_tokens": c, "total_tokens": p + c}
}
