package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/stockbroker-core/server/internal/agent/graph/tools"
	"github.com/stockbroker-core/server/internal/agent/model"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

var (
	// ErrNoPendingPurchase means execution was reached without a pending record.
	ErrNoPendingPurchase = errors.New("no pending purchase to execute")
	// ErrOrphanConfirmation means the confirmation cannot be bound to a request.
	ErrOrphanConfirmation = errors.New("purchase confirmation has no originating tool call")
)

// Purchase outcomes reported to a Recorder.
const (
	OutcomeExecuted  = "executed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Recorder observes purchase outcomes.
type Recorder interface {
	RecordPurchase(outcome string)
}

type Executor struct {
	broker   Broker
	recorder Recorder
}

// NewExecutor creates an executor; recorder may be nil.
func NewExecutor(broker Broker, recorder Recorder) *Executor {
	return &Executor{broker: broker, recorder: recorder}
}

// Execute consumes pending: it trades at most once, answers every tool call
// of msg and always clears the pending record. A cancel_purchase call
// discards the record without trading.
func (e *Executor) Execute(ctx context.Context, msg *schema.Message, pending *model.PendingPurchase) (model.Delta, error) {
	if pending == nil {
		return model.Delta{}, ErrNoPendingPurchase
	}
	if pending.CallID == "" {
		return model.Delta{}, fmt.Errorf("%w: pending %s purchase carries no call id", ErrOrphanConfirmation, pending.Ticker)
	}
	if msg == nil || len(msg.ToolCalls) == 0 {
		return model.Delta{}, fmt.Errorf("%w: no tool call to bind the confirmation to", ErrOrphanConfirmation)
	}

	bind := bindingCall(msg.ToolCalls)
	var text string
	switch {
	case msg.ToolCalls[bind].Function.Name == tools.ToolCancelPurchase:
		text = fmt.Sprintf("Cancelled the pending purchase of %d share(s) of %s. No order was placed.", pending.Quantity, pending.Ticker)
		e.record(OutcomeCancelled)
		logx.Info().Str("ticker", pending.Ticker).Str("call_id", pending.CallID).Msg("Pending purchase cancelled")
	default:
		order, err := e.broker.Buy(ctx, *pending)
		if err != nil {
			// the record is dropped anyway: a failed order is not retried blindly
			text = fmt.Sprintf("%sthe purchase of %d share(s) of %s failed: %v. Nothing is pending any more.",
				tools.ErrorPrefix, pending.Quantity, pending.Ticker, err)
			e.record(OutcomeFailed)
			logx.Error().Err(err).Str("ticker", pending.Ticker).Str("call_id", pending.CallID).Msg("Purchase execution failed")
			break
		}
		text = fmt.Sprintf("Successfully purchased %d share(s) of %s at a maximum price of %s per share (order %s, request %s).",
			order.Quantity, order.Ticker, order.MaxPurchasePrice.String(), order.ID, order.RequestCallID)
		e.record(OutcomeExecuted)
	}

	delta := model.Delta{ClearPending: true}
	for i, call := range msg.ToolCalls {
		if i == bind {
			delta.Messages = append(delta.Messages, ToolResult(call, text))
			continue
		}
		delta.Messages = append(delta.Messages, ToolResult(call,
			tools.ErrorPrefix+"not executed because the pending purchase was handled first; request it again if still needed."))
	}
	return delta, nil
}

// bindingCall picks the call the confirmation answers: the first purchase or
// cancel request, else the first call.
func bindingCall(calls []schema.ToolCall) int {
	for i, c := range calls {
		if tools.IsPurchaseRequest(c.Function.Name) || c.Function.Name == tools.ToolCancelPurchase {
			return i
		}
	}
	return 0
}

func (e *Executor) record(outcome string) {
	if e.recorder != nil {
		e.recorder.RecordPurchase(outcome)
	}
}
