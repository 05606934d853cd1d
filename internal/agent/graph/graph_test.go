package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockbroker-core/server/internal/agent/graph/conversations"
	"github.com/stockbroker-core/server/internal/agent/graph/nodes"
	"github.com/stockbroker-core/server/internal/agent/graph/purchase"
	"github.com/stockbroker-core/server/internal/agent/graph/tools"
	"github.com/stockbroker-core/server/internal/agent/model"
	"github.com/stockbroker-core/server/internal/agent/repo"
	"github.com/stockbroker-core/server/internal/findata"
	"github.com/stockbroker-core/server/internal/websearch"
)

type stubFinancialData struct{}

func (stubFinancialData) IncomeStatements(context.Context, findata.StatementQuery) (string, error) {
	return `{"income_statements":[]}`, nil
}
func (stubFinancialData) BalanceSheets(context.Context, findata.StatementQuery) (string, error) {
	return `{"balance_sheets":[]}`, nil
}
func (stubFinancialData) CashFlowStatements(context.Context, findata.StatementQuery) (string, error) {
	return `{"cash_flow_statements":[]}`, nil
}
func (stubFinancialData) FinancialMetrics(context.Context, findata.StatementQuery) (string, error) {
	return `{"financial_metrics":[]}`, nil
}
func (stubFinancialData) CompanyFacts(context.Context, string) (string, error) {
	return `{"company_facts":{}}`, nil
}
func (stubFinancialData) CompanyNews(context.Context, string, int) (string, error) {
	return `{"news":[]}`, nil
}
func (stubFinancialData) Prices(context.Context, findata.PriceQuery) (string, error) {
	return `{"prices":[]}`, nil
}
func (stubFinancialData) SnapshotText(_ context.Context, ticker string) (string, error) {
	return `{"snapshot":{"ticker":"` + ticker + `","price":190}}`, nil
}
func (stubFinancialData) Filings(context.Context, findata.FilingsQuery) (string, error) {
	return `{"filings":[]}`, nil
}
func (stubFinancialData) Tickers(context.Context) (string, error) {
	return `{"tickers":["AAPL"]}`, nil
}
func (stubFinancialData) Search(context.Context, findata.SearchRequest) (string, error) {
	return `{"search_results":[]}`, nil
}

func (stubFinancialData) Snapshot(_ context.Context, ticker string) (*findata.PriceSnapshot, error) {
	return &findata.PriceSnapshot{Ticker: ticker, Price: 190}, nil
}

type stubSearch struct{}

func (stubSearch) Search(_ context.Context, query string, _ int) (*websearch.Response, error) {
	return &websearch.Response{Query: query}, nil
}

func (stubSearch) SearchText(context.Context, string) (string, error) {
	return "", nil
}

type stubExtractor struct{}

func (stubExtractor) ExtractTicker(context.Context, string, string) (string, float64, error) {
	return "", 0, errors.New("no ticker")
}

// scriptedReasoner replays replies and records what each step saw.
type scriptedReasoner struct {
	mu      sync.Mutex
	replies []func() *schema.Message
	seen    [][]*schema.Message
	pending []*model.PendingPurchase
	// loop repeats the last reply forever
	loop bool
}

func (r *scriptedReasoner) Reason(_ context.Context, history []*schema.Message, pending *model.PendingPurchase) (*schema.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := len(r.seen)
	r.seen = append(r.seen, history)
	r.pending = append(r.pending, pending)
	if step >= len(r.replies) {
		if !r.loop || len(r.replies) == 0 {
			return nil, errors.New("script exhausted")
		}
		step = len(r.replies) - 1
	}
	return r.replies[step](), nil
}

func (r *scriptedReasoner) script(replies ...func() *schema.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = replies
	r.seen = nil
	r.pending = nil
}

func text(content string) func() *schema.Message {
	return func() *schema.Message { return schema.AssistantMessage(content, nil) }
}

func calls(tcs ...schema.ToolCall) func() *schema.Message {
	return func() *schema.Message {
		return schema.AssistantMessage("", append([]schema.ToolCall(nil), tcs...))
	}
}

func tc(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}
}

type harness struct {
	runner   Runner
	reasoner *scriptedReasoner
	repo     *repo.MemoryConversationRepository
	broker   *purchase.SimulatedBroker
}

func newHarness(t *testing.T, maxSteps int) *harness {
	t.Helper()
	registry, err := NewRegistry(stubFinancialData{}, stubSearch{})
	require.NoError(t, err)

	h := &harness{
		reasoner: &scriptedReasoner{},
		repo:     repo.NewMemoryConversationRepository(),
		broker:   purchase.NewSimulatedBroker(),
	}
	runnable, err := BuildGraph(context.Background(), &GraphConfig{
		Registry:           registry,
		Reasoner:           h.reasoner,
		Preparer:           purchase.NewPreparer(stubFinancialData{}, stubSearch{}, stubExtractor{}),
		Executor:           purchase.NewExecutor(h.broker, nil),
		ReasoningModelName: "gemini-2.5-flash",
		MaxSteps:           maxSteps,
		PendingStore:       h.repo,
	})
	require.NoError(t, err)

	mm := conversations.NewMessagesManager(h.repo, model.ConversationConfig{})
	h.runner = NewRunner(runnable, mm, nil)
	return h
}

func (h *harness) ask(t *testing.T, query string) (*model.TurnResult, error) {
	t.Helper()
	return h.runner.Invoke(context.Background(), model.QueryInput{ConversationID: "conv-1", Query: query})
}

func toolResults(msgs []*schema.Message) map[string]*schema.Message {
	out := map[string]*schema.Message{}
	for _, m := range msgs {
		if m.Role == schema.Tool {
			out[m.ToolCallID] = m
		}
	}
	return out
}

func TestTurnStopsWithoutToolCalls(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(text("Hello! How can I help with your investments?"))

	out, err := h.ask(t, "hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help with your investments?", out.Answer.Content)
	require.Len(t, out.NewMessages, 2)
	assert.Equal(t, schema.User, out.NewMessages[0].Role)
	assert.Equal(t, "hi", out.NewMessages[0].Content)
	assert.Equal(t, out.Answer.Content, out.NewMessages[1].Content)
	assert.Nil(t, out.Conversation.Pending)
	require.Len(t, h.reasoner.seen, 1)

	n, err := h.repo.GetMessageCount(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDispatchAnswersEveryCallBeforeReasoningAgain(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(
		calls(
			tc("call_a", tools.ToolPriceSnapshot, `{"ticker":"AAPL"}`),
			tc("call_b", tools.ToolCompanyNews, `{"ticker":"AAPL"}`),
			tc("call_c", "made_up_tool", `{}`),
		),
		text("AAPL trades at 190."),
	)

	out, err := h.ask(t, "How is Apple doing?")
	require.NoError(t, err)
	assert.Equal(t, "AAPL trades at 190.", out.Answer.Content)

	require.Len(t, h.reasoner.seen, 2)
	second := h.reasoner.seen[1]
	// user, assistant, three tool results
	require.Len(t, second, 5)
	results := toolResults(second[2:])
	require.Len(t, results, 3)
	assert.Contains(t, results["call_a"].Content, `"price":190`)
	assert.Contains(t, results["call_b"].Content, "news")
	assert.True(t, strings.HasPrefix(results["call_c"].Content, tools.ErrorPrefix))
	assert.Nil(t, out.Conversation.Pending)
}

func TestFanOutPurchaseAndDataCalls(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(
		calls(
			tc("call_news", tools.ToolCompanyNews, `{"ticker":"AAPL"}`),
			tc("call_buy", tools.ToolPurchaseStock, `{"ticker":"AAPL","quantity":5,"max_purchase_price":300}`),
		),
		text("AAPL is at 190. Shall I buy 5 shares?"),
	)

	out, err := h.ask(t, "Buy 5 AAPL under 300 and show me the news")
	require.NoError(t, err)

	require.Len(t, h.reasoner.seen, 2)
	results := toolResults(h.reasoner.seen[1])
	require.Len(t, results, 2)
	assert.Contains(t, results["call_buy"].Content, "pending_confirmation")
	assert.Contains(t, results["call_news"].Content, "news")

	require.NotNil(t, out.Conversation.Pending)
	assert.Equal(t, "AAPL", out.Conversation.Pending.Ticker)
	assert.Equal(t, 5, out.Conversation.Pending.Quantity)
	assert.Equal(t, "call_buy", out.Conversation.Pending.CallID)
	require.NotNil(t, h.reasoner.pending[1])
	assert.Empty(t, h.broker.Orders())

	stored, err := h.repo.LoadPending(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "call_buy", stored.CallID)
}

func TestPurchaseRoundTripAcrossTurns(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(
		calls(tc("call_1", tools.ToolPurchaseStock, `{"ticker":"AAPL","quantity":5,"max_purchase_price":300}`)),
		text("AAPL is at 190. Confirm the purchase of 5 shares?"),
	)
	_, err := h.ask(t, "Buy 5 shares of AAPL, max 300")
	require.NoError(t, err)

	h.reasoner.script(
		calls(tc("call_2", tools.ToolPurchaseStock, `{"ticker":"AAPL","quantity":5,"max_purchase_price":300}`)),
		text("Done: bought 5 AAPL."),
	)
	out, err := h.ask(t, "yes")
	require.NoError(t, err)

	// the stored pending purchase reached the first step of the second turn
	require.NotNil(t, h.reasoner.pending[0])
	assert.Equal(t, "call_1", h.reasoner.pending[0].CallID)

	results := toolResults(out.NewMessages)
	require.Contains(t, results, "call_2")
	assert.Contains(t, results["call_2"].Content, "5 share(s) of AAPL")
	assert.Nil(t, out.Conversation.Pending)

	orders := h.broker.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "call_1", orders[0].RequestCallID)

	stored, err := h.repo.LoadPending(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// a third turn cannot execute it again
	h.reasoner.script(text("Anything else?"))
	_, err = h.ask(t, "thanks")
	require.NoError(t, err)
	assert.Len(t, h.broker.Orders(), 1)
}

func TestFailedTurnAfterExecutionDoesNotTradeAgain(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(
		calls(tc("call_1", tools.ToolPurchaseStock, `{"ticker":"AAPL","quantity":5,"max_purchase_price":300}`)),
		text("Confirm the purchase of 5 AAPL?"),
	)
	_, err := h.ask(t, "Buy 5 shares of AAPL, max 300")
	require.NoError(t, err)

	// the trade runs, then the next reasoning step fails
	h.reasoner.script(calls(tc("call_2", tools.ToolPurchaseStock, `{"ticker":"AAPL","quantity":5,"max_purchase_price":300}`)))
	_, err = h.ask(t, "yes")
	require.Error(t, err)
	require.Len(t, h.broker.Orders(), 1)

	stored, err := h.repo.LoadPending(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// a repeated confirmation starts a new preparation instead of trading
	h.reasoner.script(
		calls(tc("call_3", tools.ToolPurchaseStock, `{"ticker":"AAPL","quantity":5,"max_purchase_price":300}`)),
		text("Confirm the purchase of 5 AAPL?"),
	)
	out, err := h.ask(t, "yes")
	require.NoError(t, err)
	assert.Nil(t, h.reasoner.pending[0])

	orders := h.broker.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "call_1", orders[0].RequestCallID)
	require.NotNil(t, out.Conversation.Pending)
	assert.Equal(t, "call_3", out.Conversation.Pending.CallID)
}

type failingPendingStore struct{}

func (failingPendingStore) SavePending(context.Context, string, *model.PendingPurchase) error {
	return errors.New("redis down")
}

func TestExecutionRequiresSettledPending(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(
		calls(tc("call_1", tools.ToolPurchaseStock, `{"ticker":"AAPL","quantity":5,"max_purchase_price":300}`)),
		text("Confirm?"),
	)
	_, err := h.ask(t, "Buy 5 AAPL under 300")
	require.NoError(t, err)

	registry, err := NewRegistry(stubFinancialData{}, stubSearch{})
	require.NoError(t, err)
	runnable, err := BuildGraph(context.Background(), &GraphConfig{
		Registry:     registry,
		Reasoner:     h.reasoner,
		Preparer:     purchase.NewPreparer(stubFinancialData{}, stubSearch{}, stubExtractor{}),
		Executor:     purchase.NewExecutor(h.broker, nil),
		PendingStore: failingPendingStore{},
	})
	require.NoError(t, err)
	runner := NewRunner(runnable, conversations.NewMessagesManager(h.repo, model.ConversationConfig{}), nil)

	h.reasoner.script(
		calls(tc("call_2", tools.ToolPurchaseStock, `{}`)),
		text("Done."),
	)
	_, err = runner.Invoke(context.Background(), model.QueryInput{ConversationID: "conv-1", Query: "yes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Empty(t, h.broker.Orders())
}

func TestPriceCeilingLeavesNothingPending(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(
		calls(tc("call_1", tools.ToolPurchaseStock, `{"ticker":"AAPL","max_purchase_price":100}`)),
		text("The price is above your limit."),
	)

	out, err := h.ask(t, "Buy AAPL under 100")
	require.NoError(t, err)
	assert.Nil(t, out.Conversation.Pending)
	assert.Contains(t, toolResults(out.NewMessages)["call_1"].Content, "Purchase rejected")
}

func TestClarificationFollowsToolResults(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(
		calls(tc("call_1", tools.ToolPurchaseStock, `{"max_purchase_price":100}`)),
		text("Which company?"),
	)

	out, err := h.ask(t, "buy me something under 100")
	require.NoError(t, err)

	second := h.reasoner.seen[1]
	require.Len(t, second, 4)
	assert.Equal(t, schema.Tool, second[2].Role)
	assert.Equal(t, schema.Assistant, second[3].Role)
	assert.Equal(t, purchase.ClarificationText, second[3].Content)
	assert.Nil(t, out.Conversation.Pending)
}

func TestEmptyToolCallsFailTheTurn(t *testing.T) {
	h := newHarness(t, 0)
	h.reasoner.script(func() *schema.Message {
		msg := schema.AssistantMessage("", nil)
		msg.ResponseMeta = &schema.ResponseMeta{FinishReason: "tool_calls"}
		return msg
	})

	_, err := h.ask(t, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), nodes.ErrEmptyToolCalls.Error())

	n, err := h.repo.GetMessageCount(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunawayToolLoopIsBounded(t *testing.T) {
	h := newHarness(t, 12)
	h.reasoner.loop = true
	h.reasoner.script(calls(tc("call_x", tools.ToolAvailableTickers, `{}`)))

	_, err := h.ask(t, "loop forever")
	require.Error(t, err)

	n, err := h.repo.GetMessageCount(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInvokeRequiresConversationID(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.runner.Invoke(context.Background(), model.QueryInput{Query: "hi"})
	assert.Error(t, err)
}

func TestConversationLocksAreReleased(t *testing.T) {
	var locks conversationLocks

	unlock := locks.lock("conv-1")
	acquired := make(chan func())
	go func() { acquired <- locks.lock("conv-1") }()

	select {
	case <-acquired:
		t.Fatal("second turn entered while the first held the lock")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, locks.size())

	otherUnlock := locks.lock("conv-2")
	assert.Equal(t, 2, locks.size())
	otherUnlock()

	unlock()
	second := <-acquired
	assert.Equal(t, 1, locks.size())
	second()
	assert.Zero(t, locks.size())
}

func TestRunnerDropsLocksAfterTurns(t *testing.T) {
	h := newHarness(t, 0)
	for _, id := range []string{"conv-a", "conv-b", "conv-c"} {
		h.reasoner.script(text("hello"))
		_, err := h.runner.Invoke(context.Background(), model.QueryInput{ConversationID: id, Query: "hi"})
		require.NoError(t, err)
	}
	h.reasoner.script()
	_, err := h.runner.Invoke(context.Background(), model.QueryInput{ConversationID: "conv-d", Query: "hi"})
	require.Error(t, err)

	assert.Zero(t, h.runner.(*graphRunner).locks.size())
}
