package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/comigor/empath/internal/config"
	"github.com/comigor/empath/internal/history"
)

type mockLLM struct {
	calls []openai.ChatCompletionResponse
	err   error
	reqs  []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.reqs = append(m.reqs, r)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	if len(m.calls) == 0 {
		panic("mockLLM: no more responses configured for request: " + r.Messages[0].Content)
	}
	resp := m.calls[0]
	m.calls = m.calls[1:]
	return resp, nil
}

func reply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
	}}
}

var sampleHistory = []history.Message{
	{Role: history.RoleSystem, Content: "be brief"},
	{Role: history.RoleUser, Content: "hi"},
	{Role: history.RoleAssistant, Content: "hello"},
	{Role: history.RoleUser, Content: "what now?"},
}

func TestOpenAICompleter_SendsHistoryAndOptions(t *testing.T) {
	m := &mockLLM{calls: []openai.ChatCompletionResponse{reply("Good question. What's your goal?")}}
	c := NewOpenAICompleter(m, "mistral-small")

	out, err := c.Complete(context.Background(), sampleHistory, Options{
		Temperature: 0.8, MaxTokens: 1024, PresencePenalty: 0.1, FrequencyPenalty: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, "Good question. What's your goal?", out)

	require.Len(t, m.reqs, 1)
	req := m.reqs[0]
	require.Equal(t, "mistral-small", req.Model)
	require.Equal(t, float32(0.8), req.Temperature)
	require.Equal(t, 1024, req.MaxTokens)
	require.Equal(t, float32(0.1), req.PresencePenalty)
	require.Equal(t, float32(0.2), req.FrequencyPenalty)
	require.Equal(t, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "be brief"},
		{Role: openai.ChatMessageRoleUser, Content: "hi"},
		{Role: openai.ChatMessageRoleAssistant, Content: "hello"},
		{Role: openai.ChatMessageRoleUser, Content: "what now?"},
	}, req.Messages)
}

func TestOpenAICompleter_NoChoices(t *testing.T) {
	m := &mockLLM{calls: []openai.ChatCompletionResponse{{}}}
	_, err := NewOpenAICompleter(m, "x").Complete(context.Background(), sampleHistory, Options{})
	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, KindServerError, ce.Kind)
}

func TestOpenAICompleter_ErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, KindRateLimited},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, KindUnauthorized},
		{"forbidden request", &openai.RequestError{HTTPStatusCode: 403, Err: errors.New("nope")}, KindUnauthorized},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, KindServerError},
		{"request error 500", &openai.RequestError{HTTPStatusCode: 500, Err: errors.New("boom")}, KindServerError},
		{"deadline", context.DeadlineExceeded, KindNetworkError},
		{"wrapped cancel", fmt.Errorf("dial: %w", context.Canceled), KindNetworkError},
		{"transport", errors.New("connection refused"), KindNetworkError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewOpenAICompleter(&mockLLM{err: tc.err}, "x")
			_, err := c.Complete(context.Background(), sampleHistory, Options{})
			var ce *CompletionError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.want, ce.Kind)
			require.ErrorIs(t, err, tc.err)
			require.NotEmpty(t, ce.UserMessage())
		})
	}
}

func TestCompletionError_UserMessages(t *testing.T) {
	cases := map[Kind]string{
		KindRateLimited:  "Let's take a quick pause - could you share that again in a moment?",
		KindUnauthorized: "Mind if we try that again?",
		KindServerError:  "Need a moment to process. Could we try that again?",
		KindNetworkError: "Having trouble connecting. Could you try again?",
	}
	for kind, want := range cases {
		require.Equal(t, want, (&CompletionError{Kind: kind}).UserMessage(), kind)
	}
}

type stubGenerator struct {
	resp     *genai.GenerateContentResponse
	err      error
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
	model    string
}

func (s *stubGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.model, s.contents, s.cfg = model, contents, cfg
	return s.resp, s.err
}

func geminiText(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: genai.NewContentFromText(text, genai.RoleModel)},
	}}
}

func TestGeminiCompleter_MapsRoles(t *testing.T) {
	g := &stubGenerator{resp: geminiText("Tell me more?")}
	c := &GeminiCompleter{models: g, model: "gemini-2.5-flash"}

	out, err := c.Complete(context.Background(), sampleHistory, Options{Temperature: 0.5, MaxTokens: 64})
	require.NoError(t, err)
	require.Equal(t, "Tell me more?", out)

	require.Equal(t, "gemini-2.5-flash", g.model)
	require.Len(t, g.contents, 3)
	require.Equal(t, genai.RoleUser, g.contents[0].Role)
	require.Equal(t, genai.RoleModel, g.contents[1].Role)
	require.Equal(t, "what now?", g.contents[2].Parts[0].Text)
	require.NotNil(t, g.cfg.SystemInstruction)
	require.Equal(t, "be brief", g.cfg.SystemInstruction.Parts[0].Text)
	require.Equal(t, float32(0.5), *g.cfg.Temperature)
	require.Equal(t, int32(64), g.cfg.MaxOutputTokens)
}

func TestGeminiCompleter_Errors(t *testing.T) {
	c := &GeminiCompleter{models: &stubGenerator{err: genai.APIError{Code: 429, Message: "quota"}}, model: "m"}
	_, err := c.Complete(context.Background(), sampleHistory, Options{})
	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, KindRateLimited, ce.Kind)

	c = &GeminiCompleter{models: &stubGenerator{resp: &genai.GenerateContentResponse{}}, model: "m"}
	_, err = c.Complete(context.Background(), sampleHistory, Options{})
	require.ErrorAs(t, err, &ce)
	require.Equal(t, KindServerError, ce.Kind)
}

func TestNewCompleter(t *testing.T) {
	c, err := NewCompleter(context.Background(), config.LLMConfig{Provider: "openai", BaseURL: "http://localhost:1/v1", Model: "m"})
	require.NoError(t, err)
	require.IsType(t, &OpenAICompleter{}, c)

	_, err = NewCompleter(context.Background(), config.LLMConfig{Provider: "carrier-pigeon"})
	require.Error(t, err)
}

func TestOptionsFrom(t *testing.T) {
	d := config.Default().LLM
	require.Equal(t, Options{Temperature: 0.8, MaxTokens: 1024}, OptionsFrom(d))
}
