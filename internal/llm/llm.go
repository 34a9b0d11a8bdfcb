package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/empath/internal/config"
	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/logger"
)

// NewClient creates a new OpenAI client for any OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// OptionsFrom reads the sampling parameters out of the provider config.
func OptionsFrom(cfg config.LLMConfig) Options {
	return Options{
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		PresencePenalty:  cfg.PresencePenalty,
		FrequencyPenalty: cfg.FrequencyPenalty,
	}
}

// NewCompleter builds the completer selected by cfg.Provider.
func NewCompleter(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai", "mistral":
		return NewOpenAICompleter(NewClient(cfg), cfg.Model), nil
	case "gemini":
		return NewGeminiCompleter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// OpenAICompleter talks to a chat-completions endpoint.
type OpenAICompleter struct {
	client Client
	model  string
}

func NewOpenAICompleter(client Client, model string) *OpenAICompleter {
	return &OpenAICompleter{client: client, model: model}
}

func (c *OpenAICompleter) Complete(ctx context.Context, messages []history.Message, opts Options) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:            c.model,
		Messages:         toOpenAIMessages(messages),
		Temperature:      opts.Temperature,
		MaxTokens:        opts.MaxTokens,
		PresencePenalty:  opts.PresencePenalty,
		FrequencyPenalty: opts.FrequencyPenalty,
	}

	logger.FromContext(ctx).Debug("calling completion", "model", c.model, "messages", len(req.Messages))
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", classifyError(errNoChoices)
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []history.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case history.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case history.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
