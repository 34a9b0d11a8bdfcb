package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/empath/internal/history"
)

// Client is minimal subset of openai.Client used by OpenAICompleter; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Completer turns a message history into the assistant's next reply.
// Failures are reported as *CompletionError.
type Completer interface {
	Complete(ctx context.Context, messages []history.Message, opts Options) (string, error)
}

// Options are the sampling parameters sent with every completion.
type Options struct {
	Temperature      float32
	MaxTokens        int
	PresencePenalty  float32
	FrequencyPenalty float32
}
