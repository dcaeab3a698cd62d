// Package conversations persists the messages of conversations.
package conversations

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/chatline/pkg/models"
)

var (
	// ErrNotFound is returned for an unknown message.
	ErrNotFound = errors.New("message not found")

	// ErrDuplicate is returned when a message id is appended twice.
	ErrDuplicate = errors.New("message already exists")
)

// Store is an append-mostly log of messages per conversation. Update
// replaces the parts of an existing message, which is how tool calls advance.
type Store interface {
	Append(ctx context.Context, msg models.Message) error
	List(ctx context.Context, conversationID string) ([]models.Message, error)
	Update(ctx context.Context, msg models.Message) error
	Get(ctx context.Context, conversationID, messageID string) (models.Message, error)
	Close() error
}

// Config selects a store backend.
type Config struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown conversation store backend %q", cfg.Backend)
	}
}

func checkMessage(msg models.Message) error {
	if msg.ID == "" {
		return errors.New("message ID is required")
	}
	if msg.ConversationID == "" {
		return errors.New("conversation ID is required")
	}
	return nil
}
