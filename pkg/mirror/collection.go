package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind entity type stored in the mirror
type Kind string

const (
	// KindConversations conversation list of a user
	KindConversations Kind = "conversations"
	// KindMessages messages of one conversation
	KindMessages Kind = "messages"
	// KindNotifications notification list of a user
	KindNotifications Kind = "notifications"
	// KindTransactions last known transaction states
	KindTransactions Kind = "transactions"
)

type envelope[T any] struct {
	SavedAt time.Time `json:"saved_at"`
	Items   []T       `json:"items"`
}

// Collection typed JSON codec over a KV for one entity kind.
// time.Time fields are written as RFC 3339 and decoded back to time.Time.
type Collection[T any] struct {
	kv   KV
	kind Kind
}

// NewCollection create a collection
func NewCollection[T any](kv KV, kind Kind) *Collection[T] {
	return &Collection[T]{kv: kv, kind: kind}
}

// Save serialize items in order
func (c *Collection[T]) Save(ctx context.Context, userID, scope string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(envelope[T]{SavedAt: time.Now().UTC(), Items: items})
	if err != nil {
		return fmt.Errorf("marshal %s mirror: %w", c.kind, err)
	}
	return c.kv.Put(ctx, Key(userID, string(c.kind), scope), data)
}

// Load deserialize items and the time they were saved
func (c *Collection[T]) Load(ctx context.Context, userID, scope string) ([]T, time.Time, error) {
	data, err := c.kv.Get(ctx, Key(userID, string(c.kind), scope))
	if err != nil {
		return nil, time.Time{}, err
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshal %s mirror: %w", c.kind, err)
	}
	return env.Items, env.SavedAt, nil
}

// Delete drop the scope
func (c *Collection[T]) Delete(ctx context.Context, userID, scope string) error {
	return c.kv.Delete(ctx, Key(userID, string(c.kind), scope))
}
