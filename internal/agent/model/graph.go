package model

import (
	"github.com/cloudwego/eino/schema"
)

// AppState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so fan-out nodes
//     running in the same super-step never race on it.
//   - Nodes other than merge_results never write History or Pending; they
//     return a Delta instead.
type AppState struct {
	ConversationID string
	History        []*schema.Message // append-only within a turn
	Pending        *PendingPurchase  // at most one at a time
	Outstanding    []schema.ToolCall // tool calls of the assistant message being serviced
	TurnStart      int               // len(History) before this turn's user message
	Steps          int               // reasoning steps taken in this turn

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// TurnInput represents one user query against a conversation.
type TurnInput struct {
	Conversation *Conversation
	Query        string
}

// TurnResult is the graph output once the engine answers without tool calls.
type TurnResult struct {
	Answer       *schema.Message
	Conversation *Conversation
	// NewMessages are the messages appended during this turn, user query included.
	NewMessages  []*schema.Message
	TotalCostUSD float64
}

// Delta is what a handler contributes to the conversation state. The graph
// driver merges deltas; handlers never mutate state directly.
type Delta struct {
	Messages     []*schema.Message
	Pending      *PendingPurchase
	ClearPending bool
	// CostUSD is spent on model calls made by the handler itself.
	CostUSD float64
}

// QueryInput represents the public input for processing user queries.
type QueryInput struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}
