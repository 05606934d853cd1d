package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/extract_ticker.txt
var extractTickerPrompt string

// maxSearchText bounds the search text handed to the extraction model.
const maxSearchText = 16 * 1024

// RenderTickerExtraction builds the messages for a ticker extraction call.
func RenderTickerExtraction(ctx context.Context, companyName, searchText, toolName string) ([]*schema.Message, error) {
	searchText = truncate(searchText, maxSearchText)
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(extractTickerPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"CompanyName": companyName,
		"SearchText":  searchText,
		"ToolName":    toolName,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction prompt render: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("extraction prompt render: empty result")
	}
	return append(msgs, schema.UserMessage("What is the ticker symbol of "+companyName+"?")), nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
