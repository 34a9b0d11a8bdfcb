package history

import (
	"time"

	"github.com/comigor/empath/internal/classify"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one immutable entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

// Metrics is optional advisory data attached to a conversation.
type Metrics struct {
	EstimatedROI       string `json:"estimatedRoi,omitempty"`
	ImplementationTime string `json:"implementationTime,omitempty"`
	Difficulty         Level  `json:"difficulty,omitempty"`
	Priority           Level  `json:"priority,omitempty"`
}

// Conversation is a thread of user/assistant turns plus the tags derived
// from its latest response.
type Conversation struct {
	ID         string             `json:"id"`
	Text       string             `json:"text"`
	Response   string             `json:"response"`
	Sentiment  classify.Sentiment `json:"sentiment"`
	Category   classify.Category  `json:"category"`
	IsQuestion bool               `json:"isQuestion"`
	Messages   []Message          `json:"messages"`
	CreatedAt  time.Time          `json:"createdAt"`
	Metrics    *Metrics           `json:"metrics,omitempty"`
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	if c.Metrics != nil {
		m := *c.Metrics
		out.Metrics = &m
	}
	return out
}

// Complete reports whether every turn has both halves.
func (c Conversation) Complete() bool {
	return len(c.Messages)%2 == 0
}
