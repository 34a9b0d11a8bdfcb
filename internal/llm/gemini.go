package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/comigor/empath/internal/config"
	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/logger"
)

// contentGenerator is the part of genai.Models the completer needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiCompleter talks to the Gemini API. System messages become the
// system instruction; assistant turns are sent with the model role.
type GeminiCompleter struct {
	models contentGenerator
	model  string
}

func NewGeminiCompleter(ctx context.Context, cfg config.LLMConfig) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiCompleter{models: client.Models, model: model}, nil
}

func (c *GeminiCompleter) Complete(ctx context.Context, messages []history.Message, opts Options) (string, error) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case history.RoleSystem:
			system = append(system, m.Content)
		case history.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	temp := opts.Temperature
	presence := opts.PresencePenalty
	frequency := opts.FrequencyPenalty
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		PresencePenalty:  &presence,
		FrequencyPenalty: &frequency,
		MaxOutputTokens:  int32(opts.MaxTokens),
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	logger.FromContext(ctx).Debug("calling gemini", "model", c.model, "contents", len(contents))
	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", classifyError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", classifyError(errNoChoices)
	}
	return text, nil
}
