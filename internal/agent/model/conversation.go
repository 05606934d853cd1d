package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessages appends messages to the conversation history in order.
	AddMessages(ctx context.Context, conversationID string, messages ...*schema.Message) error

	// LoadHistory retrieves the conversation history for a conversation
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// SavePending stores the pending purchase; nil removes it.
	SavePending(ctx context.Context, conversationID string, pending *PendingPurchase) error

	// LoadPending returns the pending purchase or nil when none is stored.
	LoadPending(ctx context.Context, conversationID string) (*PendingPurchase, error)

	// ClearHistory removes all conversation state for a conversation
	ClearHistory(ctx context.Context, conversationID string) error

	// GetMessageCount returns the number of messages in the conversation
	GetMessageCount(ctx context.Context, conversationID string) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
}

// Conversation is the cross-turn state of one conversation: the transcript
// and the purchase awaiting confirmation, if any.
type Conversation struct {
	ID      string
	History []*schema.Message
	Pending *PendingPurchase
}
