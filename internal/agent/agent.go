// Package agent runs advisor turns. A turn is gated by a small state
// machine so only one submission is in flight at a time; a completed turn
// is handed to the history repository, a failed one leaves it untouched.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/qmuntal/stateless"

	"github.com/comigor/empath/internal/classify"
	"github.com/comigor/empath/internal/config"
	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/llm"
	"github.com/comigor/empath/internal/logger"
	"github.com/comigor/empath/internal/metrics"
)

// FSM States
type FSMState stateless.State

var (
	StateIdle       FSMState = "Idle"
	StateSubmitting FSMState = "Submitting"
	StateSucceeded  FSMState = "Succeeded"
	StateFailed     FSMState = "Failed"
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	TriggerSubmit    FSMTrigger = "Submit"
	TriggerCompleted FSMTrigger = "Completed"
	TriggerFailed    FSMTrigger = "Failed"
	TriggerSettle    FSMTrigger = "Settle"
)

// ErrBusy is returned when a submission is already in flight.
var ErrBusy = errors.New("a submission is already in progress")

// ValidationError rejects input before anything is sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid input: " + e.Reason }

func (e *ValidationError) UserMessage() string { return "Could you rephrase that?" }

// Turn is the outcome of a successful submission. Warning is set when the
// turn was kept in memory but could not be saved.
type Turn struct {
	ConversationID string
	Created        bool
	Reply          string
	Tags           classify.Result
	Conversation   history.Conversation
	Warning        error
}

// Agent is the advisor session controller.
type Agent struct {
	completer llm.Completer
	repo      *history.Repository
	metrics   *metrics.Metrics

	opts           llm.Options
	timeout        time.Duration
	systemPrompt   string
	turnSuffix     string
	maxInputLength int
	maxHistory     int

	// guards the check-and-fire on fsm and the input buffer
	mu    sync.Mutex
	fsm   *stateless.StateMachine
	input string
}

func New(completer llm.Completer, repo *history.Repository, cfg config.Config, m *metrics.Metrics) *Agent {
	a := &Agent{
		completer:      completer,
		repo:           repo,
		metrics:        m,
		opts:           llm.OptionsFrom(cfg.LLM),
		timeout:        cfg.LLM.Timeout,
		systemPrompt:   cfg.Advisor.SystemPrompt,
		turnSuffix:     cfg.Advisor.TurnSuffix,
		maxInputLength: cfg.Advisor.MaxInputLength,
		maxHistory:     cfg.Advisor.MaxHistory,
	}

	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateSubmitting)
	fsm.Configure(StateSubmitting).
		Permit(TriggerCompleted, StateSucceeded).
		Permit(TriggerFailed, StateFailed)
	fsm.Configure(StateSucceeded).
		Permit(TriggerSettle, StateIdle).
		OnEntry(func(_ context.Context, _ ...any) error {
			a.input = ""
			return nil
		})
	fsm.Configure(StateFailed).
		Permit(TriggerSettle, StateIdle)
	a.fsm = fsm
	return a
}

// State reports the controller's current state.
func (a *Agent) State() FSMState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fsm.MustState().(FSMState)
}

// Input returns the pending input buffer.
func (a *Agent) Input() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.input
}

// SetInput replaces the input buffer. It is ignored while a submission is
// in flight.
func (a *Agent) SetInput(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fsm.MustState() == StateIdle {
		a.input = s
	}
}

// NewConversation clears the active conversation so the next submission
// starts a new one.
func (a *Agent) NewConversation(ctx context.Context) error {
	return a.repo.SetActive(ctx, "")
}

func (a *Agent) validate(input string) error {
	if strings.TrimSpace(input) == "" {
		return &ValidationError{Reason: "input is empty"}
	}
	if a.maxInputLength > 0 && utf8.RuneCountInString(input) > a.maxInputLength {
		return &ValidationError{Reason: fmt.Sprintf("input exceeds %d characters", a.maxInputLength)}
	}
	return nil
}

// begin moves Idle to Submitting, or reports ErrBusy.
func (a *Agent) begin(ctx context.Context, input string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ok, _ := a.fsm.CanFire(TriggerSubmit); !ok {
		return ErrBusy
	}
	a.input = input
	return a.fsm.FireCtx(ctx, TriggerSubmit)
}

// finish fires the outcome trigger and settles back to Idle.
func (a *Agent) finish(ctx context.Context, outcome FSMTrigger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fsm.FireCtx(ctx, outcome); err != nil {
		logger.FromContext(ctx).Error("fsm transition failed", "trigger", outcome, "error", err)
	}
	if err := a.fsm.FireCtx(ctx, TriggerSettle); err != nil {
		logger.FromContext(ctx).Error("fsm transition failed", "trigger", TriggerSettle, "error", err)
	}
}

// Submit sends input to the advisor as the next turn of the active
// conversation, or of a new one when none is active.
func (a *Agent) Submit(ctx context.Context, input string) (*Turn, error) {
	log := logger.FromContext(ctx)
	if err := a.validate(input); err != nil {
		a.metrics.TurnFinished("invalid")
		return nil, err
	}
	if err := a.begin(ctx, input); err != nil {
		if errors.Is(err, ErrBusy) {
			log.Info("submission ignored; another is in flight")
			a.metrics.TurnFinished("busy")
		}
		return nil, err
	}

	active := a.repo.Active()
	messages := a.buildMessages(active, input)

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := a.completer.Complete(callCtx, messages, a.opts)
	a.metrics.ObserveCompletion(time.Since(start))
	if err != nil {
		var ce *llm.CompletionError
		if !errors.As(err, &ce) {
			ce = &llm.CompletionError{Kind: llm.KindNetworkError, Err: err}
		}
		log.Warn("completion failed", "kind", ce.Kind, "error", err)
		a.metrics.CompletionFailed(string(ce.Kind))
		a.metrics.TurnFinished("failed")
		a.finish(ctx, TriggerFailed)
		return nil, ce
	}

	reply := classify.FormatResponse(raw)
	tags := classify.Classify(reply)
	res, err := a.repo.AppendTurn(ctx, active, history.Turn{
		User:      history.Message{Role: history.RoleUser, Content: input},
		Assistant: history.Message{Role: history.RoleAssistant, Content: reply},
		Tags:      tags,
	})
	if errors.Is(err, history.ErrNotFound) {
		// active conversation vanished mid-flight (e.g. cleared); start a new one
		res, err = a.repo.AppendTurn(ctx, "", history.Turn{
			User:      history.Message{Role: history.RoleUser, Content: input},
			Assistant: history.Message{Role: history.RoleAssistant, Content: reply},
			Tags:      tags,
		})
	}
	if err != nil {
		a.metrics.TurnFinished("failed")
		a.finish(ctx, TriggerFailed)
		return nil, err
	}

	a.metrics.TurnFinished("succeeded")
	a.finish(ctx, TriggerCompleted)
	log.Info("turn completed", "conversation", res.ConversationID, "created", res.Created,
		"category", tags.Category, "sentiment", tags.Sentiment)
	return &Turn{
		ConversationID: res.ConversationID,
		Created:        res.Created,
		Reply:          reply,
		Tags:           tags,
		Conversation:   res.Conversation,
		Warning:        res.Warning,
	}, nil
}

// buildMessages assembles the system prompt, the tail of the active
// conversation and the new user message with the guidance suffix.
func (a *Agent) buildMessages(active, input string) []history.Message {
	var prior []history.Message
	if active != "" {
		prior = a.repo.Messages(active)
	}
	if a.maxHistory > 0 && len(prior) > a.maxHistory {
		prior = prior[len(prior)-a.maxHistory:]
	}

	messages := make([]history.Message, 0, len(prior)+2)
	if a.systemPrompt != "" {
		messages = append(messages, history.Message{Role: history.RoleSystem, Content: a.systemPrompt})
	}
	messages = append(messages, prior...)

	content := input
	if a.turnSuffix != "" {
		content = input + "\n\n" + a.turnSuffix
	}
	return append(messages, history.Message{Role: history.RoleUser, Content: content})
}
