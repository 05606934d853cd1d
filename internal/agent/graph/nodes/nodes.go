package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/stockbroker-core/server/internal/agent/model"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

// Reasoner produces the next assistant message from the transcript.
type Reasoner interface {
	Reason(ctx context.Context, history []*schema.Message, pending *model.PendingPurchase) (*schema.Message, error)
}

// Preparer turns purchase requests into at most one pending purchase.
type Preparer interface {
	Prepare(ctx context.Context, calls []schema.ToolCall, existing *model.PendingPurchase) model.Delta
}

// Executor consumes the pending purchase.
type Executor interface {
	Execute(ctx context.Context, msg *schema.Message, pending *model.PendingPurchase) (model.Delta, error)
}

// PendingStore persists the pending purchase of a conversation.
type PendingStore interface {
	SavePending(ctx context.Context, conversationID string, pending *model.PendingPurchase) error
}

// NewLoadConversationPreHandler seeds the graph state from the stored conversation.
func NewLoadConversationPreHandler() func(context.Context, *model.TurnInput, *model.AppState) (*model.TurnInput, error) {
	return func(ctx context.Context, in *model.TurnInput, s *model.AppState) (*model.TurnInput, error) {
		if in == nil || in.Conversation == nil {
			return nil, errors.New("turn input has no conversation")
		}
		conv := in.Conversation
		s.ConversationID = conv.ID
		s.History = append(make([]*schema.Message, 0, len(conv.History)+1), conv.History...)
		s.Pending = conv.Pending.Clone()
		s.Outstanding = nil
		s.TurnStart = len(s.History)
		s.Steps = 0
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewLoadConversationNode appends the user query to the transcript.
func NewLoadConversationNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *model.TurnInput) ([]*schema.Message, error) {
		query := strings.TrimSpace(in.Query)
		if query == "" {
			return nil, errors.New("query is empty")
		}
		userMsg := schema.UserMessage(query)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			s.History = append(s.History, userMsg)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return []*schema.Message{userMsg}, nil
	})
}

// NewReasonNode runs one reasoning step over the transcript held in state.
func NewReasonNode(r Reasoner) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		var (
			history []*schema.Message
			pending *model.PendingPurchase
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			history = append([]*schema.Message(nil), s.History...)
			pending = s.Pending.Clone()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return r.Reason(ctx, history, pending)
	})
}

// NewReasonPostHandler records the reply in state and accounts for its cost.
func NewReasonPostHandler(modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		if out == nil {
			return nil, fmt.Errorf("%w: reasoning step returned nothing", ErrUnexpectedMessage)
		}
		state.Steps++

		if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
			usage := out.ResponseMeta.Usage
			inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(modelName))
			if out.Extra == nil {
				out.Extra = map[string]any{}
			}
			out.Extra["usage_cost"] = map[string]any{
				"currency":          "USD",
				"model":             modelName,
				"prompt_tokens":     usage.PromptTokens,
				"completion_tokens": usage.CompletionTokens,
				"total_tokens":      usage.TotalTokens,
				"input_cost":        inC,
				"output_cost":       outC,
				"total_cost":        totalC,
			}
			logx.Debug().
				Str("conversation_id", state.ConversationID).
				Str("node", NodeReason).
				Str("model", modelName).
				Int("prompt_tokens", usage.PromptTokens).
				Int("completion_tokens", usage.CompletionTokens).
				Float64("total_cost_usd", totalC).
				Msg("LLM usage")

			state.TotalCostUSD += totalC
		}

		state.History = append(state.History, out)
		state.Outstanding = append([]schema.ToolCall(nil), out.ToolCalls...)

		logx.Debug().
			Str("conversation_id", state.ConversationID).
			Int("step", state.Steps).
			Int("tool_calls", len(out.ToolCalls)).
			Msg("Reasoning step completed")
		return out, nil
	}
}

// NewRouteCondition wraps Route with the pending purchase held in state.
func NewRouteCondition() func(context.Context, *schema.Message) (map[string]bool, error) {
	return func(ctx context.Context, msg *schema.Message) (map[string]bool, error) {
		var (
			hasPending     bool
			conversationID string
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			hasPending = s.Pending != nil
			conversationID = s.ConversationID
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		next, err := Route(msg, hasPending)
		if err != nil {
			logx.Error().Err(err).Str("conversation_id", conversationID).Msg("Routing failed")
			return nil, err
		}
		logx.Debug().
			Str("conversation_id", conversationID).
			Bool("has_pending", hasPending).
			Interface("next", next).
			Msg("Routing reasoning step")
		return next, nil
	}
}

// NewDispatchToolsPreHandler hands the tools node only the calls it owns.
func NewDispatchToolsPreHandler() func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, s *model.AppState) (*schema.Message, error) {
		_, others := partitionCalls(in.ToolCalls)
		out := *in
		out.ToolCalls = others
		logx.Debug().
			Str("conversation_id", s.ConversationID).
			Strs("call_ids", callIDs(others)).
			Msg("Dispatching tool calls")
		return &out, nil
	}
}

// NewPreparePurchaseNode prepares the purchase requests of the message.
func NewPreparePurchaseNode(p Preparer) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (model.Delta, error) {
		var pending *model.PendingPurchase
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			pending = s.Pending.Clone()
			return nil
		})
		if err != nil {
			return model.Delta{}, fmt.Errorf("failed to access state: %w", err)
		}
		purchases, _ := partitionCalls(msg.ToolCalls)
		return p.Prepare(ctx, purchases, pending), nil
	})
}

// NewExecutePurchaseNode executes or cancels the pending purchase. When store
// is set the stored record is removed before the trade, so a turn that fails
// afterwards cannot execute the same record again.
func NewExecutePurchaseNode(e Executor, store PendingStore) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (model.Delta, error) {
		var (
			pending        *model.PendingPurchase
			conversationID string
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			pending = s.Pending.Clone()
			conversationID = s.ConversationID
			return nil
		})
		if err != nil {
			return model.Delta{}, fmt.Errorf("failed to access state: %w", err)
		}
		if store != nil && pending != nil {
			if err := store.SavePending(ctx, conversationID, nil); err != nil {
				logx.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to settle pending purchase")
				return model.Delta{}, fmt.Errorf("settle pending purchase: %w", err)
			}
		}
		return e.Execute(ctx, msg, pending)
	})
}

// mergeOrder fixes the order in which fan-out results enter the transcript.
var mergeOrder = []string{NodeDispatchTools, NodePreparePurchase, NodeExecutePurchase}

// NewMergeResultsNode joins the fan-out branches: it applies their deltas to
// state once every outstanding tool call has exactly one result.
func NewMergeResultsNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in map[string]any) ([]*schema.Message, error) {
		deltas, err := collectDeltas(in)
		if err != nil {
			return nil, err
		}

		var added []*schema.Message
		err = compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			merged, err := applyDeltas(s, deltas)
			if err != nil {
				return err
			}
			added = merged
			return nil
		})
		if err != nil {
			logx.Error().Err(err).Str("node", NodeMergeResults).Msg("Failed to merge tool results")
			return nil, err
		}
		return added, nil
	})
}

func collectDeltas(in map[string]any) ([]model.Delta, error) {
	deltas := make([]model.Delta, 0, len(in))
	for _, key := range mergeOrder {
		v, ok := in[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case []*schema.Message:
			deltas = append(deltas, model.Delta{Messages: t})
		case model.Delta:
			deltas = append(deltas, t)
		default:
			return nil, fmt.Errorf("%w: %s produced %T", ErrUnexpectedMessage, key, v)
		}
	}
	if len(deltas) != len(in) {
		return nil, fmt.Errorf("%w: unexpected merge inputs %d", ErrUnexpectedMessage, len(in))
	}
	return deltas, nil
}

// applyDeltas merges deltas into s. Tool results are appended before any
// other message so they stay adjacent to the assistant message they answer.
func applyDeltas(s *model.AppState, deltas []model.Delta) ([]*schema.Message, error) {
	var toolMsgs, otherMsgs []*schema.Message
	pending := s.Pending
	var cost float64
	for _, d := range deltas {
		for _, m := range d.Messages {
			if m == nil {
				continue
			}
			if m.Role == schema.Tool {
				toolMsgs = append(toolMsgs, m)
			} else {
				otherMsgs = append(otherMsgs, m)
			}
		}
		cost += d.CostUSD
		if d.ClearPending {
			pending = nil
		}
		if d.Pending != nil {
			if pending != nil {
				return nil, fmt.Errorf("%w: %s is pending, %s requested", ErrPendingOverwrite, pending.Ticker, d.Pending.Ticker)
			}
			if err := d.Pending.Validate(); err != nil {
				return nil, fmt.Errorf("invalid pending purchase: %w", err)
			}
			pending = d.Pending.Clone()
		}
	}

	if err := checkToolResults(callIDs(s.Outstanding), toolMsgs); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(s.Outstanding))
	for _, call := range s.Outstanding {
		names[call.ID] = call.Function.Name
	}
	for _, m := range toolMsgs {
		if m.ToolName == "" {
			m.ToolName = names[m.ToolCallID]
		}
	}

	added := append(toolMsgs, otherMsgs...)
	s.History = append(s.History, added...)
	s.Pending = pending
	s.Outstanding = nil
	s.TotalCostUSD += cost

	logx.Debug().
		Str("conversation_id", s.ConversationID).
		Int("tool_results", len(toolMsgs)).
		Bool("has_pending", s.Pending != nil).
		Msg("Merged tool results")
	return added, nil
}

// NewFinalizeNode snapshots the state into the turn result.
func NewFinalizeNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, answer *schema.Message) (*model.TurnResult, error) {
		var out *model.TurnResult
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			history := append([]*schema.Message(nil), s.History...)
			out = &model.TurnResult{
				Answer: answer,
				Conversation: &model.Conversation{
					ID:      s.ConversationID,
					History: history,
					Pending: s.Pending.Clone(),
				},
				NewMessages:  append([]*schema.Message(nil), history[s.TurnStart:]...),
				TotalCostUSD: s.TotalCostUSD,
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return out, nil
	})
}
