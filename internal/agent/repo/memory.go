package repo

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/stockbroker-core/server/internal/agent/model"
)

// MemoryConversationRepository keeps conversations in process memory.
type MemoryConversationRepository struct {
	mu       sync.RWMutex
	messages map[string][]*schema.Message
	pending  map[string]*model.PendingPurchase
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		messages: map[string][]*schema.Message{},
		pending:  map[string]*model.PendingPurchase{},
	}
}

func (r *MemoryConversationRepository) AddMessages(_ context.Context, conversationID string, messages ...*schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[conversationID] = append(r.messages[conversationID], messages...)
	return nil
}

func (r *MemoryConversationRepository) LoadHistory(_ context.Context, conversationID string) (*model.ConversationHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := append([]*schema.Message{}, r.messages[conversationID]...)
	return &model.ConversationHistory{ConversationID: conversationID, Messages: msgs}, nil
}

func (r *MemoryConversationRepository) SavePending(_ context.Context, conversationID string, pending *model.PendingPurchase) error {
	if pending != nil {
		if err := pending.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if pending == nil {
		delete(r.pending, conversationID)
		return nil
	}
	r.pending[conversationID] = pending.Clone()
	return nil
}

func (r *MemoryConversationRepository) LoadPending(_ context.Context, conversationID string) (*model.PendingPurchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending[conversationID].Clone(), nil
}

func (r *MemoryConversationRepository) ClearHistory(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, conversationID)
	delete(r.pending, conversationID)
	return nil
}

func (r *MemoryConversationRepository) GetMessageCount(_ context.Context, conversationID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages[conversationID]), nil
}

var _ model.ConversationRepository = (*MemoryConversationRepository)(nil)
