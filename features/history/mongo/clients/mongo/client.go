// Package mongo hosts the MongoDB client used by the conversation store.
package mongo

//go:generate cmg gen .

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/inlet/runtime/chat/session"
	"goa.design/inlet/runtime/chat/stream"
)

const (
	defaultMessagesCollection = "chat_messages"
	defaultOpTimeout          = 5 * time.Second
	historyClientName         = "history-mongo"
)

// Client exposes Mongo-backed operations for conversation messages.
type Client interface {
	health.Pinger

	// InsertMessage persists one message. The message ID must be unique;
	// retried inserts of the same message are rejected by the unique index.
	InsertMessage(ctx context.Context, msg session.Message) error
	// ListMessages returns up to limit messages of a thread, newest first.
	// A limit <= 0 means no limit. Returns session.ErrThreadNotFound when
	// the thread has no messages.
	ListMessages(ctx context.Context, threadID string, limit int) ([]session.Message, error)
}

// Options configures the Mongo history client.
type Options struct {
	// Client is the connected driver client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// MessagesCollection overrides the default collection name.
	MessagesCollection string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

type client struct {
	mongo    *mongodriver.Client
	messages *mongodriver.Collection
	timeout  time.Duration
}

// messageDocument is the stored shape of one message.
type messageDocument struct {
	MessageID string                 `bson:"message_id"`
	ThreadID  string                 `bson:"thread_id"`
	Role      string                 `bson:"role"`
	Content   string                 `bson:"content"`
	Events    []session.StoredEvent  `bson:"events,omitempty"`
	Sources   []stream.SourcePayload `bson:"sources,omitempty"`
	Images    []stream.ImagePayload  `bson:"images,omitempty"`
	Cancelled bool                   `bson:"cancelled,omitempty"`
	CreatedAt time.Time              `bson:"created_at"`
}

// New returns a Client backed by MongoDB. It ensures the message indexes on
// startup: a unique index on message_id and a compound (thread_id,
// created_at) index serving the list query.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.MessagesCollection
	if collection == "" {
		collection = defaultMessagesCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	c := &client{
		mongo:    opts.Client,
		messages: opts.Client.Database(opts.Database).Collection(collection),
		timeout:  timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) Name() string {
	return historyClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) InsertMessage(ctx context.Context, msg session.Message) error {
	if msg.ID == "" {
		return errors.New("message id is required")
	}
	if msg.ThreadID == "" {
		return errors.New("thread id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.messages.InsertOne(ctx, fromMessage(msg))
	return err
}

func (c *client) ListMessages(ctx context.Context, threadID string, limit int) ([]session.Message, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		findOpts = findOpts.SetLimit(int64(limit))
	}
	cursor, err := c.messages.Find(ctx, bson.M{"thread_id": threadID}, findOpts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, session.ErrThreadNotFound
	}
	out := make([]session.Message, len(docs))
	for i, doc := range docs {
		out[i] = doc.toMessage()
	}
	return out, nil
}

func (c *client) ensureIndexes(ctx context.Context) error {
	_, err := c.messages.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func fromMessage(msg session.Message) messageDocument {
	return messageDocument{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Role:      msg.Role,
		Content:   msg.Content,
		Events:    msg.Events,
		Sources:   msg.Sources,
		Images:    msg.Images,
		Cancelled: msg.Cancelled,
		CreatedAt: msg.CreatedAt.UTC(),
	}
}

func (d messageDocument) toMessage() session.Message {
	return session.Message{
		ID:        d.MessageID,
		ThreadID:  d.ThreadID,
		Role:      d.Role,
		Content:   d.Content,
		Events:    d.Events,
		Sources:   d.Sources,
		Images:    d.Images,
		Cancelled: d.Cancelled,
		CreatedAt: d.CreatedAt,
	}
}
