package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/stockbroker-core/server/internal/agent/graph/tools"
	"github.com/stockbroker-core/server/internal/agent/model"
)

//go:embed template/system_prompt.txt
var coreSystemPrompt string

// now is swapped in tests.
var now = time.Now

// RenderSystem renders the reasoning system prompt via the Eino prompt
// component so prompt callbacks fire. pending may be nil.
func RenderSystem(ctx context.Context, cfg model.PromptConfig, pending *model.PendingPurchase) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(coreSystemPrompt),
	)
	vars := map[string]any{
		"AgentName":    cfg.AgentName,
		"Currency":     cfg.Currency,
		"Today":        now().Format("2006-01-02"),
		"SearchTool":   tools.ToolWebSearch,
		"PurchaseTool": tools.ToolPurchaseStock,
		"CancelTool":   tools.ToolCancelPurchase,
		"HasPending":   pending != nil,
	}
	if pending != nil {
		vars["PendingTicker"] = pending.Ticker
		vars["PendingQuantity"] = pending.Quantity
		vars["PendingMaxPrice"] = pending.MaxPurchasePrice.String()
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}
