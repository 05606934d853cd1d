package tools

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/stockbroker-core/server/internal/websearch"
)

// WebSearcher is the web search collaborator.
type WebSearcher interface {
	Search(ctx context.Context, query string, max int) (*websearch.Response, error)
}

type webSearchInput struct {
	Query      string `json:"query" validate:"required"`
	MaxResults int    `json:"max_results" validate:"min=1,max=20"`
}

// WebSearchTool searches the web for information the financial API lacks.
func WebSearchTool(ws WebSearcher) Tool {
	return Tool{
		Spec: Spec{
			Name: ToolWebSearch,
			Desc: "Search the web for current events, news or any information not available from the financial data tools.",
			Args: []Arg{
				{Name: "query", Type: schema.String, Desc: "Search query.", Required: true},
				{Name: "max_results", Type: schema.Integer, Desc: "Maximum number of results.", Default: 5},
			},
		},
		Handler: Typed(func(ctx context.Context, in *webSearchInput) (string, error) {
			resp, err := ws.Search(ctx, in.Query, in.MaxResults)
			if err != nil {
				return "", err
			}
			return JSONText(resp)
		}),
	}
}
