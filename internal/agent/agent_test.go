package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/empath/internal/classify"
	"github.com/comigor/empath/internal/config"
	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/llm"
	"github.com/comigor/empath/internal/store"
)

// mockCompleter replays canned replies and records every request.
type mockCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]history.Message
	opts    []llm.Options
	// when set, Complete blocks until release is closed
	started chan struct{}
	release chan struct{}
}

func (m *mockCompleter) Complete(ctx context.Context, messages []history.Message, opts llm.Options) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]history.Message(nil), messages...))
	m.opts = append(m.opts, opts)
	started, release := m.started, m.release
	m.mu.Unlock()

	if started != nil {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return "", &llm.CompletionError{Kind: llm.KindNetworkError, Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		panic("mockCompleter: no more replies configured")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Advisor.SystemPrompt = "You are Sarah."
	cfg.Advisor.TurnSuffix = "Be specific."
	cfg.LLM.Timeout = time.Second
	return cfg
}

func newTestAgent(t *testing.T, c llm.Completer, cfg config.Config) (*Agent, *history.Repository, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	repo := history.New(s, nil)
	require.NoError(t, repo.Hydrate(context.Background()))
	return New(c, repo, cfg, nil), repo, s
}

func TestSubmit_FirstTurnCreatesConversation(t *testing.T) {
	ctx := context.Background()
	m := &mockCompleter{replies: []string{"Good question. What's your goal?"}}
	a, repo, _ := newTestAgent(t, m, testConfig())

	turn, err := a.Submit(ctx, "What drives me?")
	require.NoError(t, err)
	require.True(t, turn.Created)
	require.NotEmpty(t, turn.ConversationID)
	require.Equal(t, turn.ConversationID, repo.Active())
	require.Equal(t, "Good question. What's your goal?", turn.Reply)
	require.True(t, turn.Tags.IsQuestion)
	require.Equal(t, classify.CategoryPurpose, turn.Tags.Category)
	require.NoError(t, turn.Warning)

	c, ok := repo.Get(turn.ConversationID)
	require.True(t, ok)
	require.Equal(t, []history.Message{
		{Role: history.RoleUser, Content: "What drives me?"},
		{Role: history.RoleAssistant, Content: "Good question. What's your goal?"},
	}, c.Messages)
	require.True(t, c.IsQuestion)

	require.Equal(t, StateIdle, a.State())
	require.Empty(t, a.Input())

	// the completion saw the system prompt and the suffixed input
	require.Equal(t, []history.Message{
		{Role: history.RoleSystem, Content: "You are Sarah."},
		{Role: history.RoleUser, Content: "What drives me?\n\nBe specific."},
	}, m.calls[0])
	require.Equal(t, llm.OptionsFrom(testConfig().LLM), m.opts[0])
}

func TestSubmit_ContinuesActiveConversation(t *testing.T) {
	ctx := context.Background()
	m := &mockCompleter{replies: []string{"First.", "Second •  step"}}
	a, repo, _ := newTestAgent(t, m, testConfig())

	first, err := a.Submit(ctx, "one")
	require.NoError(t, err)
	second, err := a.Submit(ctx, "two")
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.ConversationID, second.ConversationID)
	require.Equal(t, "Second \n\n• step", second.Reply)

	require.Len(t, repo.Messages(first.ConversationID), 4)
	require.Equal(t, []history.Message{
		{Role: history.RoleSystem, Content: "You are Sarah."},
		{Role: history.RoleUser, Content: "one"},
		{Role: history.RoleAssistant, Content: "First."},
		{Role: history.RoleUser, Content: "two\n\nBe specific."},
	}, m.calls[1])
}

func TestSubmit_HistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Advisor.MaxHistory = 2
	m := &mockCompleter{replies: []string{"a1", "a2", "a3"}}
	a, _, _ := newTestAgent(t, m, cfg)

	for _, in := range []string{"q1", "q2", "q3"} {
		_, err := a.Submit(ctx, in)
		require.NoError(t, err)
	}
	require.Equal(t, []history.Message{
		{Role: history.RoleSystem, Content: "You are Sarah."},
		{Role: history.RoleUser, Content: "q2"},
		{Role: history.RoleAssistant, Content: "a2"},
		{Role: history.RoleUser, Content: "q3\n\nBe specific."},
	}, m.calls[2])
}

func TestSubmit_NewConversation(t *testing.T) {
	ctx := context.Background()
	m := &mockCompleter{replies: []string{"a", "b"}}
	a, repo, _ := newTestAgent(t, m, testConfig())

	first, err := a.Submit(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, a.NewConversation(ctx))
	require.Empty(t, repo.Active())

	second, err := a.Submit(ctx, "q again")
	require.NoError(t, err)
	require.True(t, second.Created)
	require.NotEqual(t, first.ConversationID, second.ConversationID)
	require.Equal(t, 2, repo.Len())
}

func TestSubmit_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.Advisor.MaxInputLength = 5
	m := &mockCompleter{replies: []string{"ok"}}
	a, repo, _ := newTestAgent(t, m, cfg)

	for _, in := range []string{"", "   \n\t", "toolong"} {
		_, err := a.Submit(context.Background(), in)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "input %q", in)
		require.Equal(t, "Could you rephrase that?", ve.UserMessage())
	}
	require.Zero(t, m.callCount())
	require.Zero(t, repo.Len())

	// multi-byte runes count once
	_, err := a.Submit(context.Background(), "héllo")
	require.NoError(t, err)
	require.Equal(t, 1, repo.Len())
	require.Equal(t, StateIdle, a.State())
}

func TestSubmit_FailureKeepsInputAndHistory(t *testing.T) {
	ctx := context.Background()
	m := &mockCompleter{replies: []string{"ok"}}
	a, repo, s := newTestAgent(t, m, testConfig())
	first, err := a.Submit(ctx, "q")
	require.NoError(t, err)
	saved, _, err := s.Get(ctx, store.KeyConversations)
	require.NoError(t, err)

	m.mu.Lock()
	m.err = &llm.CompletionError{Kind: llm.KindRateLimited, Status: 429, Err: errors.New("slow down")}
	m.mu.Unlock()

	_, err = a.Submit(ctx, "second question")
	var ce *llm.CompletionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, llm.KindRateLimited, ce.Kind)

	require.Equal(t, "second question", a.Input())
	require.Equal(t, StateIdle, a.State())
	require.Len(t, repo.Messages(first.ConversationID), 2)
	after, _, err := s.Get(ctx, store.KeyConversations)
	require.NoError(t, err)
	require.Equal(t, saved, after, "failed turn must not touch storage")
}

func TestSubmit_UntypedErrorBecomesNetworkError(t *testing.T) {
	m := &mockCompleter{err: errors.New("socket closed")}
	a, _, _ := newTestAgent(t, m, testConfig())
	_, err := a.Submit(context.Background(), "hi")
	var ce *llm.CompletionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, llm.KindNetworkError, ce.Kind)
}

func TestSubmit_SingleFlight(t *testing.T) {
	ctx := context.Background()
	m := &mockCompleter{
		replies: []string{"done"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	a, repo, _ := newTestAgent(t, m, testConfig())

	type result struct {
		turn *Turn
		err  error
	}
	firstDone := make(chan result, 1)
	go func() {
		turn, err := a.Submit(ctx, "first")
		firstDone <- result{turn, err}
	}()
	<-m.started
	require.Equal(t, StateSubmitting, a.State())
	require.Equal(t, "first", a.Input())

	_, err := a.Submit(ctx, "second")
	require.ErrorIs(t, err, ErrBusy)
	a.SetInput("ignored while busy")
	require.Equal(t, "first", a.Input())

	close(m.release)
	r := <-firstDone
	require.NoError(t, r.err)
	require.Equal(t, "done", r.turn.Reply)
	require.Equal(t, 1, m.callCount())
	require.Len(t, repo.Messages(r.turn.ConversationID), 2)
	require.Equal(t, StateIdle, a.State())
}

func TestSubmit_TimeoutIsNetworkError(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Timeout = 10 * time.Millisecond
	m := &mockCompleter{started: make(chan struct{}), release: make(chan struct{})}
	a, repo, _ := newTestAgent(t, m, cfg)

	_, err := a.Submit(context.Background(), "slow")
	var ce *llm.CompletionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, llm.KindNetworkError, ce.Kind)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, repo.Len())
}

func TestSubmit_PersistFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	m := &mockCompleter{replies: []string{"fine"}}
	a, repo, s := newTestAgent(t, m, testConfig())
	require.NoError(t, s.Close())

	turn, err := a.Submit(ctx, "q")
	require.NoError(t, err)
	require.ErrorIs(t, turn.Warning, store.ErrUnavailable)
	require.Equal(t, 1, repo.Len())
}

func TestSetInput(t *testing.T) {
	a, _, _ := newTestAgent(t, &mockCompleter{}, testConfig())
	a.SetInput("draft")
	require.Equal(t, "draft", a.Input())
	a.SetInput("")
	require.Empty(t, a.Input())
}
