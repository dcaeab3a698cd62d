package conversations

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/chatline/pkg/models"
)

// MemoryStore keeps messages in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string][]models.Message
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string][]models.Message)}
}

func (s *MemoryStore) Append(ctx context.Context, msg models.Message) error {
	if err := checkMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.convs[msg.ConversationID] {
		if existing.ID == msg.ID {
			return fmt.Errorf("%w: %s", ErrDuplicate, msg.ID)
		}
	}
	s.convs[msg.ConversationID] = append(s.convs[msg.ConversationID], msg.Clone())
	return nil
}

func (s *MemoryStore) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.convs[conversationID]
	out := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.convs[msg.ConversationID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			updated := msg.Clone()
			updated.CreatedAt = msgs[i].CreatedAt
			msgs[i] = updated
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, msg.ID)
}

func (s *MemoryStore) Get(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.convs[conversationID] {
		if msg.ID == messageID {
			return msg.Clone(), nil
		}
	}
	return models.Message{}, fmt.Errorf("%w: %s", ErrNotFound, messageID)
}

func (s *MemoryStore) Close() error {
	return nil
}
