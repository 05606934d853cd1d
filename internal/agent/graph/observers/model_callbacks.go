package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/stockbroker-core/server/pkg/logger"
)

// newModelHandler logs the latest user message and the reply around model calls.
func newModelHandler(metrics *Metrics) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", string(info.Component)).Str("name", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages)).Int("tools", len(input.Tools))
				if um := lastUserContent(input.Messages); um != "" {
					ev = ev.Str("user", um)
				}
			}
			ev.Msg("Model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			metrics.ObserveModelCall("ok")
			if output == nil || output.Message == nil {
				return ctx
			}
			if output.TokenUsage != nil {
				metrics.ObserveTokens(output.TokenUsage.PromptTokens, output.TokenUsage.CompletionTokens)
			}
			names := make([]string, 0, len(output.Message.ToolCalls))
			for _, tc := range output.Message.ToolCalls {
				names = append(names, tc.Function.Name)
			}
			logx.Debug().
				Str("name", info.Name).
				Str("assistant", strings.TrimSpace(output.Message.Content)).
				Strs("tool_calls", names).
				Msg("Model call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			metrics.ObserveModelCall("error")
			logx.Error().Err(err).Str("name", info.Name).Msg("Model call failed")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
