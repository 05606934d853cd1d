package conversations

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/stockbroker-core/server/internal/agent/model"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

type MessagesManager struct {
	conversationRepo model.ConversationRepository
	historyWindow    int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		historyWindow:    config.HistoryWindow,
	}
}

// Load returns the conversation state a turn starts from: the recent history
// window and the pending purchase.
func (cm *MessagesManager) Load(ctx context.Context, conversationID string) (*model.Conversation, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	pending, err := cm.conversationRepo.LoadPending(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	window := trimTail(history.Messages, cm.historyWindow)
	logx.Debug().
		Str("conversation_id", conversationID).
		Int("stored_messages", len(history.Messages)).
		Int("window", len(window)).
		Bool("has_pending", pending != nil).
		Msg("Conversation loaded")

	return &model.Conversation{
		ID:      conversationID,
		History: window,
		Pending: pending,
	}, nil
}

// SaveTurn appends the turn's messages and stores the pending purchase,
// removing it when nil.
func (cm *MessagesManager) SaveTurn(ctx context.Context, conversationID string, messages []*schema.Message, pending *model.PendingPurchase) error {
	if len(messages) > 0 {
		if err := cm.conversationRepo.AddMessages(ctx, conversationID, messages...); err != nil {
			return err
		}
	}
	return cm.conversationRepo.SavePending(ctx, conversationID, pending)
}

// trimTail keeps the last maxMessages messages. The window never starts with
// tool results whose requesting assistant message was cut off.
func trimTail(messages []*schema.Message, maxMessages int) []*schema.Message {
	start := 0
	if maxMessages > 0 && len(messages) > maxMessages {
		start = len(messages) - maxMessages
		for start < len(messages) && messages[start] != nil && messages[start].Role == schema.Tool {
			start++
		}
	}
	result := make([]*schema.Message, len(messages)-start)
	copy(result, messages[start:])
	return result
}
