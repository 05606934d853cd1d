package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// NewAllCallbacks aggregates all observer handlers (prompt, model, tool) into one callbacks.Handler.
// metrics may be nil.
func NewAllCallbacks(metrics *Metrics) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(newToolHandler(metrics)).
		ChatModel(newModelHandler(metrics)).
		Prompt(newPromptHandler()).
		Handler()
}
