package conversations

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockbroker-core/server/internal/agent/model"
	"github.com/stockbroker-core/server/internal/agent/repo"
)

func TestTrimTail(t *testing.T) {
	assistant := schema.AssistantMessage("", []schema.ToolCall{{ID: "a"}, {ID: "b"}})
	msgs := []*schema.Message{
		schema.UserMessage("q1"),
		assistant,
		schema.ToolMessage("r1", "a"),
		schema.ToolMessage("r2", "b"),
		schema.AssistantMessage("answer", nil),
	}

	assert.Len(t, trimTail(msgs, 0), 5)
	assert.Len(t, trimTail(msgs, 10), 5)

	// window would start on orphaned tool results
	got := trimTail(msgs, 2)
	require.Len(t, got, 1)
	assert.Equal(t, "answer", got[0].Content)

	got = trimTail(msgs, 4)
	require.Len(t, got, 4)
	assert.Same(t, assistant, got[0])
}

func TestMessagesManagerTurn(t *testing.T) {
	ctx := context.Background()
	r := repo.NewMemoryConversationRepository()
	mm := NewMessagesManager(r, model.ConversationConfig{HistoryWindow: 2})

	conv, err := mm.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Empty(t, conv.History)
	assert.Nil(t, conv.Pending)

	p := &model.PendingPurchase{CallID: "call_1", Ticker: "AAPL", Quantity: 5, MaxPurchasePrice: decimal.NewFromInt(300)}
	require.NoError(t, mm.SaveTurn(ctx, "c1", []*schema.Message{
		schema.UserMessage("buy 5 AAPL"),
		schema.AssistantMessage("one", nil),
		schema.AssistantMessage("two", nil),
	}, p))

	conv, err = mm.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.History, 2)
	assert.Equal(t, "one", conv.History[0].Content)
	require.NotNil(t, conv.Pending)
	assert.Equal(t, "AAPL", conv.Pending.Ticker)

	n, err := r.GetMessageCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, mm.SaveTurn(ctx, "c1", nil, nil))
	conv, err = mm.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, conv.Pending)
}
