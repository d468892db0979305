// Package conversation keeps a bounded window of recent turns per
// conversation key.
package conversation

import (
	"context"
	"fmt"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxExchanges is the number of user/assistant exchanges retained per
// conversation.
const DefaultMaxExchanges = 10

// Turn is one message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store persists turns. Append must add the turns and drop all but the newest
// maxTurns as one step that is serialized per key. Read returns turns oldest
// first and an empty slice for unknown keys.
type Store interface {
	Append(ctx context.Context, key string, turns []Turn, maxTurns int) error
	Read(ctx context.Context, key string) ([]Turn, error)
	Clear(ctx context.Context, key string) error
}

// Window applies the retention bound on top of a Store.
type Window struct {
	store    Store
	maxTurns int
}

// NewWindow creates a Window keeping at most maxExchanges exchanges per key.
// Non-positive values use DefaultMaxExchanges.
func NewWindow(store Store, maxExchanges int) *Window {
	if maxExchanges <= 0 {
		maxExchanges = DefaultMaxExchanges
	}
	return &Window{store: store, maxTurns: 2 * maxExchanges}
}

// DefaultKey is the conversation key used when the caller does not name one.
func DefaultKey(userID string) string {
	return userID + "_default"
}

// Exchange builds the pair of turns recorded for one answered question.
func Exchange(question, answer string) []Turn {
	return []Turn{
		{Role: RoleUser, Content: question},
		{Role: RoleAssistant, Content: answer},
	}
}

// Append adds turns to key, evicting the oldest turns beyond the bound.
func (w *Window) Append(ctx context.Context, key string, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	if err := w.store.Append(ctx, key, turns, w.maxTurns); err != nil {
		return fmt.Errorf("appending to conversation %s: %w", key, err)
	}
	return nil
}

// Read returns the stored turns for key, oldest first.
func (w *Window) Read(ctx context.Context, key string) ([]Turn, error) {
	turns, err := w.store.Read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading conversation %s: %w", key, err)
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}

// Clear removes the conversation entirely.
func (w *Window) Clear(ctx context.Context, key string) error {
	if err := w.store.Clear(ctx, key); err != nil {
		return fmt.Errorf("clearing conversation %s: %w", key, err)
	}
	return nil
}
