package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/comigor/empath/internal/agent"
	"github.com/comigor/empath/internal/history"
)

// Advisor is what the submit and new-conversation tools drive.
type Advisor interface {
	Submit(ctx context.Context, input string) (*agent.Turn, error)
	NewConversation(ctx context.Context) error
}

// Lister lists conversations.
type Lister interface {
	List() []history.Conversation
	Active() string
}

// Exporter renders the export document.
type Exporter interface {
	ExportBytes() ([]byte, error)
}

// NewAdvisorTools registers the advisor tools on a new ToolManager.
func NewAdvisorTools(a Advisor, l Lister, e Exporter) *ToolManager {
	m := NewToolManager()
	m.RegisterTool(&SubmitTool{advisor: a})
	m.RegisterTool(&NewConversationTool{advisor: a})
	m.RegisterTool(&ListConversationsTool{lister: l})
	m.RegisterTool(&ExportTool{exporter: e})
	return m
}

// SubmitTool sends one message to the advisor.
type SubmitTool struct {
	advisor Advisor
}

func (t *SubmitTool) Name() string { return "advisor_submit" }

func (t *SubmitTool) Description() string {
	return "Send a message to the business advisor as the next turn of the active conversation. Returns the reply with its category, sentiment and whether it asks a question."
}

func (t *SubmitTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"input": {"type": "string", "description": "What to tell the advisor."}},
		"required": ["input"]
	}`)
}

type submitResult struct {
	ConversationID string `json:"conversationId"`
	Created        bool   `json:"created"`
	Reply          string `json:"reply"`
	Category       string `json:"category"`
	Sentiment      string `json:"sentiment"`
	IsQuestion     bool   `json:"isQuestion"`
	Warning        string `json:"warning,omitempty"`
}

func (t *SubmitTool) Run(ctx context.Context, args string) (string, error) {
	var toolArgs struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	turn, err := t.advisor.Submit(ctx, toolArgs.Input)
	if err != nil {
		return "", err
	}
	res := submitResult{
		ConversationID: turn.ConversationID,
		Created:        turn.Created,
		Reply:          turn.Reply,
		Category:       turn.Tags.Category.Label(),
		Sentiment:      turn.Tags.Sentiment.Label(),
		IsQuestion:     turn.Tags.IsQuestion,
	}
	if turn.Warning != nil {
		res.Warning = "Having trouble saving your conversation."
	}
	out, err := json.Marshal(res)
	return string(out), err
}

// NewConversationTool clears the active conversation.
type NewConversationTool struct {
	advisor Advisor
}

func (t *NewConversationTool) Name() string { return "advisor_new_conversation" }

func (t *NewConversationTool) Description() string {
	return "Start a new conversation with the advisor. The next message begins a fresh thread."
}

func (t *NewConversationTool) Schema() json.RawMessage { return emptySchema }

func (t *NewConversationTool) Run(ctx context.Context, _ string) (string, error) {
	if err := t.advisor.NewConversation(ctx); err != nil {
		return "", err
	}
	return "Started a new conversation.", nil
}

// ListConversationsTool summarizes stored conversations.
type ListConversationsTool struct {
	lister Lister
}

func (t *ListConversationsTool) Name() string { return "advisor_list_conversations" }

func (t *ListConversationsTool) Description() string {
	return "List past conversations with the advisor, oldest first, marking the active one."
}

func (t *ListConversationsTool) Schema() json.RawMessage { return emptySchema }

func (t *ListConversationsTool) Run(_ context.Context, _ string) (string, error) {
	convs := t.lister.List()
	if len(convs) == 0 {
		return "No conversations yet.", nil
	}
	active := t.lister.Active()

	var b strings.Builder
	for _, c := range convs {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s [%s] %s (%s, %s, %d messages)\n",
			marker, c.ID, c.CreatedAt.Format("2006-01-02 15:04"), summary(c.Text),
			c.Category.Label(), c.Sentiment.Label(), len(c.Messages))
	}
	return b.String(), nil
}

func summary(text string) string {
	const limit = 60
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}

// ExportTool returns the export document.
type ExportTool struct {
	exporter Exporter
}

func (t *ExportTool) Name() string { return "advisor_export" }

func (t *ExportTool) Description() string {
	return "Export every conversation as a JSON document that can be imported later."
}

func (t *ExportTool) Schema() json.RawMessage { return emptySchema }

func (t *ExportTool) Run(_ context.Context, _ string) (string, error) {
	data, err := t.exporter.ExportBytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}
