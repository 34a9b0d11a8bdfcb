// Package history owns the conversation collection and persists it through
// a store.Store. Every save first copies the previous snapshot into a backup
// key; loading falls back to that backup, then to an empty collection.
// Storage failures never stop the collection from working in memory.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/empath/internal/classify"
	"github.com/comigor/empath/internal/logger"
	"github.com/comigor/empath/internal/metrics"
	"github.com/comigor/empath/internal/store"
)

// DefaultAutoSaveInterval is how often StartAutoSave persists.
const DefaultAutoSaveInterval = 30 * time.Second

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrEmptyTurn = errors.New("turn needs a user and an assistant message")
	errDuplicate = errors.New("duplicate conversation id")
)

// Source names what Hydrate fell back to when the primary snapshot was unusable.
type Source string

const (
	SourceBackup Source = "backup"
	SourceEmpty  Source = "empty"
)

// RecoveryError is returned by Hydrate when the primary snapshot could not
// be used. The repository is still usable.
type RecoveryError struct {
	Source Source
	Err    error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("history recovered from %s: %v", e.Source, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

func (e *RecoveryError) UserMessage() string {
	if e.Source == SourceBackup {
		return "Recovered from backup. Some recent changes might be missing."
	}
	return "Could not load your conversation history. Starting fresh."
}

// Turn is one completed exchange plus the tags derived from the reply.
type Turn struct {
	User      Message
	Assistant Message
	Tags      classify.Result
}

// TurnResult describes what AppendTurn did. Warning carries a persistence
// failure; the turn itself is committed in memory regardless.
type TurnResult struct {
	ConversationID string
	Created        bool
	Conversation   Conversation
	Warning        error
}

type Repository struct {
	store   store.Store
	metrics *metrics.Metrics

	mu            sync.RWMutex
	conversations []Conversation
	active        string
	lastSaved     time.Time

	// serializes snapshot+write so saves land in snapshot order
	persistMu sync.Mutex

	now   func() time.Time
	newID func() string
}

func New(s store.Store, m *metrics.Metrics) *Repository {
	return &Repository{
		store:   s,
		metrics: m,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Hydrate replaces the in-memory state with what the store holds.
func (r *Repository) Hydrate(ctx context.Context) error {
	convs, err := r.load(ctx, store.KeyConversations, true)
	if err == nil {
		active := r.restoreActive(ctx, convs)
		r.replace(convs, active)
		logger.FromContext(ctx).Info("history hydrated",
			"conversations", len(convs), "unanswered", countIncomplete(convs), "active", active)
		return nil
	}
	primaryErr := err
	logger.FromContext(ctx).Warn("primary history unusable; trying backup", "error", primaryErr)

	convs, err = r.load(ctx, store.KeyConversationsBackup, false)
	if err == nil {
		r.replace(convs, "")
		r.metrics.Recovered(string(SourceBackup))
		logger.FromContext(ctx).Warn("history recovered from backup", "conversations", len(convs))
		return &RecoveryError{Source: SourceBackup, Err: primaryErr}
	}

	r.replace(nil, "")
	r.metrics.Recovered(string(SourceEmpty))
	logger.FromContext(ctx).Error("history backup unusable; starting empty", "error", err)
	return &RecoveryError{Source: SourceEmpty, Err: errors.Join(primaryErr, err)}
}

// load reads and validates one snapshot key. An absent primary key is a
// fresh install and yields an empty collection; an absent backup is an error.
func (r *Repository) load(ctx context.Context, key string, absentOK bool) ([]Conversation, error) {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		if absentOK {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: no snapshot stored", key)
	}
	convs, err := r.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return convs, nil
}

// parse decodes a stored snapshot and rejects duplicate ids.
func (r *Repository) parse(raw string) ([]Conversation, error) {
	convs, err := Decode([]byte(raw), r.now())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(convs))
	for _, c := range convs {
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w %q", errDuplicate, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return convs, nil
}

func (r *Repository) restoreActive(ctx context.Context, convs []Conversation) string {
	id, ok, err := r.store.Get(ctx, store.KeyActiveConversation)
	if err != nil {
		logger.FromContext(ctx).Warn("active conversation id unreadable", "error", err)
		return ""
	}
	if !ok || indexOf(convs, id) < 0 {
		return ""
	}
	return id
}

func (r *Repository) replace(convs []Conversation, active string) {
	r.mu.Lock()
	r.conversations = convs
	r.active = active
	n := len(convs)
	r.mu.Unlock()
	r.metrics.SetConversations(n)
}

// countIncomplete counts conversations whose last turn has no reply.
func countIncomplete(convs []Conversation) int {
	n := 0
	for _, c := range convs {
		if !c.Complete() {
			n++
		}
	}
	return n
}

func indexOf(convs []Conversation, id string) int {
	return slices.IndexFunc(convs, func(c Conversation) bool { return c.ID == id })
}

// snapshot deep-copies the collection so it can be serialized without the lock.
func (r *Repository) snapshot() []Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conversation, len(r.conversations))
	for i, c := range r.conversations {
		out[i] = c.Clone()
	}
	return out
}

// Persist writes the current collection to the primary key after copying
// the previous primary value into the backup key. A primary value that does
// not parse is never copied, so the backup always holds a loadable snapshot.
// A failed backup is only logged; a failed primary write is returned and
// leaves memory untouched.
func (r *Repository) Persist(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	snap := r.snapshot()
	data, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	log := logger.FromContext(ctx)
	if current, ok, err := r.store.Get(ctx, store.KeyConversations); err != nil {
		log.Warn("could not read snapshot for backup", "error", err)
	} else if ok {
		if _, perr := r.parse(current); perr != nil {
			log.Warn("stored snapshot unusable; keeping existing backup", "error", perr)
		} else if err := r.store.Set(ctx, store.KeyConversationsBackup, current); err != nil {
			log.Warn("backup write failed; saving anyway", "error", err)
		}
	}

	err = r.store.Set(ctx, store.KeyConversations, string(data))
	r.metrics.Persisted(err)
	if err != nil {
		log.Error("failed to save conversations", "error", err)
		return err
	}

	r.mu.Lock()
	r.lastSaved = r.now()
	r.mu.Unlock()
	log.Debug("conversations saved", "conversations", len(snap), "bytes", len(data))
	return nil
}

// SetActive makes id the active conversation, or clears it when id is "".
// The choice is mirrored to the store right away; a store failure is
// returned but the in-memory choice stands.
func (r *Repository) SetActive(ctx context.Context, id string) error {
	r.mu.Lock()
	if id != "" && indexOf(r.conversations, id) < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.active = id
	r.mu.Unlock()
	return r.mirrorActive(ctx, id)
}

func (r *Repository) mirrorActive(ctx context.Context, id string) error {
	var err error
	if id == "" {
		err = r.store.Remove(ctx, store.KeyActiveConversation)
	} else {
		err = r.store.Set(ctx, store.KeyActiveConversation, id)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("failed to mirror active conversation", "id", id, "error", err)
	}
	return err
}

// AppendTurn records one exchange. With an empty conversationID a new
// conversation is created, inserted and made active; otherwise both
// messages are appended to the existing one and its tags refreshed.
// The collection is persisted before returning.
func (r *Repository) AppendTurn(ctx context.Context, conversationID string, turn Turn) (TurnResult, error) {
	if turn.User.Role != RoleUser || turn.Assistant.Role != RoleAssistant {
		return TurnResult{}, ErrEmptyTurn
	}

	r.mu.Lock()
	var (
		res TurnResult
		c   *Conversation
	)
	if conversationID == "" {
		r.conversations = append(r.conversations, Conversation{
			ID:        r.newID(),
			CreatedAt: r.now().UTC(),
			Messages:  []Message{},
		})
		c = &r.conversations[len(r.conversations)-1]
		r.active = c.ID
		res.Created = true
	} else {
		i := indexOf(r.conversations, conversationID)
		if i < 0 {
			r.mu.Unlock()
			return TurnResult{}, ErrNotFound
		}
		c = &r.conversations[i]
	}
	c.Messages = append(c.Messages, turn.User, turn.Assistant)
	c.Text = turn.User.Content
	c.Response = turn.Assistant.Content
	c.Category = turn.Tags.Category
	c.Sentiment = turn.Tags.Sentiment
	c.IsQuestion = turn.Tags.IsQuestion
	res.ConversationID = c.ID
	res.Conversation = c.Clone()
	n := len(r.conversations)
	r.mu.Unlock()

	r.metrics.SetConversations(n)
	var warnings []error
	if res.Created {
		if err := r.mirrorActive(ctx, res.ConversationID); err != nil {
			warnings = append(warnings, err)
		}
	}
	if err := r.Persist(ctx); err != nil {
		warnings = append(warnings, err)
	}
	res.Warning = errors.Join(warnings...)
	return res, nil
}

// Prepend inserts convs ahead of the existing conversations without
// touching the active id. A record whose id is already taken gets a fresh
// one. It returns how many records were re-identified and any persistence
// warning; the records are in memory either way.
func (r *Repository) Prepend(ctx context.Context, convs []Conversation) (int, error) {
	if len(convs) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	taken := make(map[string]struct{}, len(r.conversations)+len(convs))
	for _, c := range r.conversations {
		taken[c.ID] = struct{}{}
	}
	renamed := 0
	incoming := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		c = c.Clone()
		if _, dup := taken[c.ID]; dup || c.ID == "" {
			c.ID = r.newID()
			renamed++
		}
		taken[c.ID] = struct{}{}
		incoming = append(incoming, c)
	}
	r.conversations = append(incoming, r.conversations...)
	n := len(r.conversations)
	r.mu.Unlock()

	r.metrics.SetConversations(n)
	return renamed, r.Persist(ctx)
}

// RemoveAll forgets every conversation and deletes all stored snapshots.
// It cannot be undone.
func (r *Repository) RemoveAll(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	r.conversations = nil
	r.active = ""
	r.lastSaved = time.Time{}
	r.mu.Unlock()
	r.metrics.SetConversations(0)

	var errs []error
	for _, key := range []string{store.KeyConversations, store.KeyConversationsBackup, store.KeyActiveConversation} {
		if err := r.store.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.FromContext(ctx).Error("failed to clear stored history", "error", err)
		return err
	}
	logger.FromContext(ctx).Info("all stored history cleared")
	return nil
}

// List returns a copy of every conversation ordered by CreatedAt.
func (r *Repository) List() []Conversation {
	out := r.snapshot()
	slices.SortStableFunc(out, func(a, b Conversation) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Snapshot returns a copy of the collection in storage order.
func (r *Repository) Snapshot() []Conversation {
	return r.snapshot()
}

func (r *Repository) Get(id string) (Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := indexOf(r.conversations, id)
	if i < 0 {
		return Conversation{}, false
	}
	return r.conversations[i].Clone(), true
}

// Messages returns a copy of the messages of id, or nil when id is unknown.
func (r *Repository) Messages(id string) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := indexOf(r.conversations, id)
	if i < 0 {
		return nil
	}
	return append([]Message(nil), r.conversations[i].Messages...)
}

func (r *Repository) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Repository) LastSaved() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSaved
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}

// RunAutoSave persists every interval while the collection is non-empty,
// until ctx is done.
func (r *Repository) RunAutoSave(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.Len() == 0 {
				continue
			}
			if err := r.Persist(ctx); err != nil {
				logger.L.Warn("autosave failed", "error", err)
			}
		}
	}
}

// StartAutoSave runs RunAutoSave in its own goroutine. The returned stop
// cancels the loop and waits for an in-flight save to finish.
func (r *Repository) StartAutoSave(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunAutoSave(ctx, interval)
	}()
	return func() {
		cancel()
		<-done
	}
}
