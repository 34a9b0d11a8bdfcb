// Package store is the durable key-value conduit conversation data is
// persisted through. Backends hold opaque strings and own nothing else.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Keys shared by every component that touches durable state.
const (
	KeyConversations       = "empath_conversations"
	KeyConversationsBackup = "empath_conversations_backup"
	KeyActiveConversation  = "empath_active_conversation"
	KeyUserPreferences     = "empath_user_preferences"
	KeyTheme               = "empath_theme"
)

// Store is a get/set/remove conduit over string keys. Only single-key
// writes are atomic.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Kind classifies store failures.
type Kind string

const KindUnavailable Kind = "unavailable"

// ErrUnavailable matches any *Error of KindUnavailable via errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// Error reports a failed store operation. Callers treat it as non-fatal.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrUnavailable && e.Kind == KindUnavailable
}

// UserMessage is the warning shown when durable storage cannot be used.
func (e *Error) UserMessage() string {
	return "Having trouble saving your conversation."
}

func unavailable(op, key string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Key: key, Err: err}
}
