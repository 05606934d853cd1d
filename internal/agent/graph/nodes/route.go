package nodes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/stockbroker-core/server/internal/agent/graph/tools"
)

// Contract violations. Each one aborts the turn.
var (
	ErrEmptyToolCalls        = errors.New("assistant message requests tools but carries no tool calls")
	ErrMissingCallID         = errors.New("tool call has no correlation id")
	ErrUnexpectedMessage     = errors.New("unexpected message after reasoning step")
	ErrIncompleteToolResults = errors.New("tool calls left without exactly one result")
	ErrPendingOverwrite      = errors.New("a pending purchase would be overwritten")
)

// Route decides where the graph goes after a reasoning step. A message with
// no tool calls ends the turn. A pending purchase sends every tool-calling
// message to execution. Otherwise purchase requests go to preparation and all
// other calls to dispatch; both fire when both kinds are present.
func Route(msg *schema.Message, hasPending bool) (map[string]bool, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: no message", ErrUnexpectedMessage)
	}
	if msg.Role != schema.Assistant {
		return nil, fmt.Errorf("%w: role %q", ErrUnexpectedMessage, msg.Role)
	}

	if len(msg.ToolCalls) == 0 {
		if claimsToolUse(msg) {
			return nil, ErrEmptyToolCalls
		}
		return map[string]bool{NodeFinalize: true}, nil
	}

	for _, call := range msg.ToolCalls {
		if strings.TrimSpace(call.ID) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingCallID, call.Function.Name)
		}
	}

	if hasPending {
		return map[string]bool{NodeExecutePurchase: true}, nil
	}

	next := map[string]bool{}
	for _, call := range msg.ToolCalls {
		if tools.IsPurchaseRequest(call.Function.Name) {
			next[NodePreparePurchase] = true
		} else {
			next[NodeDispatchTools] = true
		}
	}
	return next, nil
}

// claimsToolUse reports whether the provider says it stopped to call tools.
func claimsToolUse(msg *schema.Message) bool {
	if msg.ResponseMeta == nil {
		return false
	}
	switch strings.ToLower(msg.ResponseMeta.FinishReason) {
	case "tool_calls", "function_call":
		return true
	}
	return false
}

// partitionCalls splits calls into purchase requests and everything else,
// keeping their order.
func partitionCalls(calls []schema.ToolCall) (purchases, others []schema.ToolCall) {
	for _, call := range calls {
		if tools.IsPurchaseRequest(call.Function.Name) {
			purchases = append(purchases, call)
		} else {
			others = append(others, call)
		}
	}
	return purchases, others
}

func callIDs(calls []schema.ToolCall) []string {
	ids := make([]string, 0, len(calls))
	for _, call := range calls {
		ids = append(ids, call.ID)
	}
	return ids
}

// checkToolResults verifies that msgs answer every id in outstanding exactly
// once and answer nothing else.
func checkToolResults(outstanding []string, msgs []*schema.Message) error {
	want := make(map[string]int, len(outstanding))
	for _, id := range outstanding {
		want[id] = 0
	}

	var problems []string
	for _, m := range msgs {
		if m == nil || m.Role != schema.Tool {
			continue
		}
		n, ok := want[m.ToolCallID]
		if !ok {
			problems = append(problems, fmt.Sprintf("result for unknown call %q", m.ToolCallID))
			continue
		}
		want[m.ToolCallID] = n + 1
	}
	for _, id := range outstanding {
		switch n := want[id]; {
		case n == 0:
			problems = append(problems, fmt.Sprintf("call %q has no result", id))
		case n > 1:
			problems = append(problems, fmt.Sprintf("call %q has %d results", id, n))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrIncompleteToolResults, strings.Join(problems, "; "))
	}
	return nil
}
