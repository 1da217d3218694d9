package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	clientsmongo "goa.design/inlet/features/history/mongo/clients/mongo"
	"goa.design/inlet/runtime/chat/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// AppendMessage validates the message, assigns its ID and creation time when
// unset, and persists it.
func (s *Store) AppendMessage(ctx context.Context, msg session.Message) (session.Message, error) {
	if msg.ThreadID == "" {
		return session.Message{}, errors.New("thread id is required")
	}
	if msg.Role == "" {
		return session.Message{}, errors.New("role is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	} else {
		msg.CreatedAt = msg.CreatedAt.UTC()
	}
	if err := s.client.InsertMessage(ctx, msg); err != nil {
		return session.Message{}, err
	}
	return msg, nil
}

// ListMessages returns up to limit messages of the thread, newest first.
func (s *Store) ListMessages(ctx context.Context, threadID string, limit int) ([]session.Message, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	return s.client.ListMessages(ctx, threadID, limit)
}
