package nodes

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockbroker-core/server/internal/agent/graph/tools"
	"github.com/stockbroker-core/server/internal/agent/model"
)

func call(id, name string) schema.ToolCall {
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: "{}"}}
}

func pending(callID, ticker string) *model.PendingPurchase {
	return &model.PendingPurchase{CallID: callID, Ticker: ticker, Quantity: 1, MaxPurchasePrice: decimal.NewFromInt(100)}
}

func TestRoute(t *testing.T) {
	claims := schema.AssistantMessage("", nil)
	claims.ResponseMeta = &schema.ResponseMeta{FinishReason: "tool_calls"}

	tests := []struct {
		name       string
		msg        *schema.Message
		hasPending bool
		want       map[string]bool
		wantErr    error
	}{
		{
			name: "plain text stops",
			msg:  schema.AssistantMessage("done", nil),
			want: map[string]bool{NodeFinalize: true},
		},
		{
			name:       "plain text stops even with pending purchase",
			msg:        schema.AssistantMessage("confirm?", nil),
			hasPending: true,
			want:       map[string]bool{NodeFinalize: true},
		},
		{
			name: "data tools dispatch",
			msg:  schema.AssistantMessage("", []schema.ToolCall{call("a", tools.ToolPriceSnapshot), call("b", tools.ToolWebSearch)}),
			want: map[string]bool{NodeDispatchTools: true},
		},
		{
			name: "purchase prepares",
			msg:  schema.AssistantMessage("", []schema.ToolCall{call("a", tools.ToolPurchaseStock)}),
			want: map[string]bool{NodePreparePurchase: true},
		},
		{
			name: "mixed fans out",
			msg:  schema.AssistantMessage("", []schema.ToolCall{call("a", tools.ToolCompanyNews), call("b", tools.ToolPurchaseStock)}),
			want: map[string]bool{NodeDispatchTools: true, NodePreparePurchase: true},
		},
		{
			name:       "pending purchase wins over new requests",
			msg:        schema.AssistantMessage("", []schema.ToolCall{call("a", tools.ToolCompanyNews), call("b", tools.ToolPurchaseStock)}),
			hasPending: true,
			want:       map[string]bool{NodeExecutePurchase: true},
		},
		{
			name:    "claimed tool use without calls",
			msg:     claims,
			wantErr: ErrEmptyToolCalls,
		},
		{
			name:    "missing call id",
			msg:     schema.AssistantMessage("", []schema.ToolCall{call("", tools.ToolPriceSnapshot)}),
			wantErr: ErrMissingCallID,
		},
		{
			name:    "not an assistant message",
			msg:     schema.UserMessage("hi"),
			wantErr: ErrUnexpectedMessage,
		},
		{
			name:    "nil message",
			wantErr: ErrUnexpectedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Route(tt.msg, tt.hasPending)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckToolResults(t *testing.T) {
	outstanding := []string{"a", "b"}

	assert.NoError(t, checkToolResults(outstanding, []*schema.Message{
		schema.ToolMessage("x", "b"),
		schema.AssistantMessage("clarify", nil),
		schema.ToolMessage("y", "a"),
	}))

	err := checkToolResults(outstanding, []*schema.Message{schema.ToolMessage("x", "a")})
	assert.ErrorIs(t, err, ErrIncompleteToolResults)
	assert.Contains(t, err.Error(), `call "b" has no result`)

	err = checkToolResults(outstanding, []*schema.Message{
		schema.ToolMessage("x", "a"), schema.ToolMessage("x", "a"), schema.ToolMessage("y", "b"),
	})
	assert.ErrorIs(t, err, ErrIncompleteToolResults)
	assert.Contains(t, err.Error(), `call "a" has 2 results`)

	err = checkToolResults(outstanding, []*schema.Message{
		schema.ToolMessage("x", "a"), schema.ToolMessage("y", "b"), schema.ToolMessage("z", "c"),
	})
	assert.ErrorIs(t, err, ErrIncompleteToolResults)
	assert.Contains(t, err.Error(), `unknown call "c"`)
}

func TestApplyDeltas(t *testing.T) {
	assistant := schema.AssistantMessage("", []schema.ToolCall{call("a", tools.ToolPriceSnapshot), call("b", tools.ToolPurchaseStock)})
	s := &model.AppState{
		History:     []*schema.Message{schema.UserMessage("buy"), assistant},
		Outstanding: assistant.ToolCalls,
	}

	s.TotalCostUSD = 0.01
	added, err := applyDeltas(s, []model.Delta{
		{Messages: []*schema.Message{schema.ToolMessage("price", "a")}},
		{
			Messages: []*schema.Message{schema.ToolMessage("need ticker", "b"), schema.AssistantMessage("Which company?", nil)},
			Pending:  pending("b", "AAPL"),
			CostUSD:  0.005,
		},
	})
	require.NoError(t, err)

	require.Len(t, added, 3)
	assert.Equal(t, schema.Tool, added[0].Role)
	assert.Equal(t, tools.ToolPriceSnapshot, added[0].ToolName)
	assert.Equal(t, schema.Tool, added[1].Role)
	assert.Equal(t, schema.Assistant, added[2].Role)
	assert.Len(t, s.History, 5)
	assert.Empty(t, s.Outstanding)
	require.NotNil(t, s.Pending)
	assert.Equal(t, "b", s.Pending.CallID)
	assert.InDelta(t, 0.015, s.TotalCostUSD, 1e-9)
}

func TestApplyDeltasNeverOverwritesPending(t *testing.T) {
	s := &model.AppState{
		Pending:     pending("old", "MSFT"),
		Outstanding: []schema.ToolCall{call("a", tools.ToolPurchaseStock)},
	}
	before := len(s.History)

	_, err := applyDeltas(s, []model.Delta{{
		Messages: []*schema.Message{schema.ToolMessage("ok", "a")},
		Pending:  pending("a", "AAPL"),
	}})
	assert.ErrorIs(t, err, ErrPendingOverwrite)
	assert.Equal(t, "MSFT", s.Pending.Ticker)
	assert.Len(t, s.History, before)

	// clearing first makes room
	_, err = applyDeltas(s, []model.Delta{{
		Messages:     []*schema.Message{schema.ToolMessage("ok", "a")},
		Pending:      pending("a", "AAPL"),
		ClearPending: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", s.Pending.Ticker)
}

func TestApplyDeltasRejectsIncompleteResults(t *testing.T) {
	s := &model.AppState{Outstanding: []schema.ToolCall{call("a", tools.ToolPriceSnapshot), call("b", tools.ToolWebSearch)}}
	_, err := applyDeltas(s, []model.Delta{{Messages: []*schema.Message{schema.ToolMessage("x", "a")}}})
	assert.ErrorIs(t, err, ErrIncompleteToolResults)
	assert.Empty(t, s.History)
}

func TestCollectDeltas(t *testing.T) {
	deltas, err := collectDeltas(map[string]any{
		NodePreparePurchase: model.Delta{Messages: []*schema.Message{schema.ToolMessage("p", "b")}},
		NodeDispatchTools:   []*schema.Message{schema.ToolMessage("d", "a")},
	})
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, "d", deltas[0].Messages[0].Content)
	assert.Equal(t, "p", deltas[1].Messages[0].Content)

	_, err = collectDeltas(map[string]any{"other": 1})
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
}
