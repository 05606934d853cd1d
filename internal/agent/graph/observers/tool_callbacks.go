package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/stockbroker-core/server/internal/agent/graph/tools"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

// newToolHandler logs tool lifecycle events and counts error results.
func newToolHandler(metrics *Metrics) *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			ev := logx.Debug().Str("tool_name", info.Name)
			if input != nil {
				ev = ev.Str("arguments", input.ArgumentsInJSON)
			}
			ev.Msg("Tool started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			failed := output != nil && strings.HasPrefix(output.Response, tools.ErrorPrefix)
			metrics.ObserveTool(info.Name, failed)
			if failed {
				logx.Warn().Str("tool_name", info.Name).Str("result", output.Response).Msg("Tool returned an error result")
				return ctx
			}
			logx.Debug().Str("tool_name", info.Name).Msg("Tool finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			metrics.ObserveTool(info.Name, true)
			logx.Error().Err(err).Str("tool_name", info.Name).Msg("Tool execution failed")
			return ctx
		},
	}
}
