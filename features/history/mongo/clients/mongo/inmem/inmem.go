// Package inmem provides an in-memory implementation of the history client
// for tests and local tooling.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"

	"goa.design/inlet/runtime/chat/session"
)

// Client implements the history client interface with process-local state.
// Safe for concurrent use.
type Client struct {
	mu       sync.RWMutex
	byThread map[string][]session.Message
	ids      map[string]struct{}
}

// New returns a Client with no recorded messages.
func New() *Client {
	return &Client{
		byThread: make(map[string][]session.Message),
		ids:      make(map[string]struct{}),
	}
}

// Name implements health.Pinger.
func (c *Client) Name() string {
	return "history-inmem"
}

// Ping implements health.Pinger.
func (c *Client) Ping(ctx context.Context) error {
	return nil
}

// InsertMessage records the message. Duplicate message IDs are rejected,
// mirroring the unique index of the Mongo implementation.
func (c *Client) InsertMessage(ctx context.Context, msg session.Message) error {
	if msg.ID == "" {
		return errors.New("message id is required")
	}
	if msg.ThreadID == "" {
		return errors.New("thread id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[msg.ID]; ok {
		return errors.New("duplicate message id")
	}
	c.ids[msg.ID] = struct{}{}
	c.byThread[msg.ThreadID] = append(c.byThread[msg.ThreadID], msg)
	return nil
}

// ListMessages returns up to limit messages of the thread, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string, limit int) ([]session.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs, ok := c.byThread[threadID]
	if !ok || len(msgs) == 0 {
		return nil, session.ErrThreadNotFound
	}
	out := make([]session.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reset clears all recorded messages (useful in tests).
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byThread = make(map[string][]session.Message)
	c.ids = make(map[string]struct{})
}
