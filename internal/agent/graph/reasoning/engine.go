// Package reasoning adapts eino chat models to the two calls the agent
// needs: a tool-selecting reasoning step and schema-constrained extraction.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	agentmodel "github.com/stockbroker-core/server/internal/agent/model"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

// Generator is the subset of an eino chat model used here. Tools are bound
// on the model before it is handed over.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// SystemPromptFunc renders the system prompt for the current pending purchase.
type SystemPromptFunc func(ctx context.Context, pending *agentmodel.PendingPurchase) (string, error)

// Engine is the reasoning engine adapter.
type Engine struct {
	gen    Generator
	prompt SystemPromptFunc
	newID  func() string
}

func NewEngine(gen Generator, prompt SystemPromptFunc) *Engine {
	return &Engine{
		gen:    gen,
		prompt: prompt,
		newID:  func() string { return "call_" + uuid.NewString() },
	}
}

// Reason sends system prompt + history to the tool-bound model and returns
// its reply. Every tool call in the reply carries a non-empty id.
func (e *Engine) Reason(ctx context.Context, history []*schema.Message, pending *agentmodel.PendingPurchase) (*schema.Message, error) {
	if e == nil || e.gen == nil {
		return nil, errors.New("reasoning engine is not configured")
	}
	sys, err := e.prompt(ctx, pending)
	if err != nil {
		return nil, err
	}

	input := make([]*schema.Message, 0, len(history)+1)
	input = append(input, schema.SystemMessage(sys))
	input = append(input, history...)

	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      "reasoning",
		Component: components.ComponentOfChatModel,
	})
	out, err := e.gen.Generate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("reasoning model: %w", err)
	}
	if out == nil {
		return nil, errors.New("reasoning model returned no message")
	}
	if out.Role == "" {
		out.Role = schema.Assistant
	}

	// Some providers (Gemini included) omit tool call ids.
	for i := range out.ToolCalls {
		if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
			out.ToolCalls[i].ID = e.newID()
			logx.Debug().
				Str("tool_name", out.ToolCalls[i].Function.Name).
				Str("call_id", out.ToolCalls[i].ID).
				Msg("Assigned missing tool call id")
		}
	}
	return out, nil
}
