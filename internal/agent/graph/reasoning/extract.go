package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"github.com/stockbroker-core/server/internal/agent/graph/prompts"
	agentmodel "github.com/stockbroker-core/server/internal/agent/model"
)

// ErrNoConformingOutput is returned when the model output does not match
// the extraction schema.
var ErrNoConformingOutput = errors.New("model output does not conform to the extraction schema")

var validate = validator.New()

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Extract runs a structured extraction: the model answers through the
// extraction tool named toolName, whose arguments are decoded into out and
// validated against its struct tags. A JSON object in the message content is
// accepted when the model does not call the tool.
func Extract[T any](ctx context.Context, gen Generator, toolName string, messages []*schema.Message, out *T) error {
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      toolName,
		Component: components.ComponentOfChatModel,
	})
	resp, err := gen.Generate(ctx, messages)
	if err != nil {
		return fmt.Errorf("extraction model: %w", err)
	}
	if resp == nil {
		return ErrNoConformingOutput
	}

	raw := ""
	for _, tc := range resp.ToolCalls {
		if tc.Function.Name == toolName {
			raw = tc.Function.Arguments
			break
		}
	}
	if raw == "" {
		raw = jsonFromContent(resp.Content)
	}
	if raw == "" {
		return ErrNoConformingOutput
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrNoConformingOutput, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrNoConformingOutput, err)
	}
	return nil
}

func jsonFromContent(content string) string {
	content = strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	if strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}") {
		return content
	}
	return ""
}

// TickerToolName is the extraction tool bound on the extraction model.
const TickerToolName = "extract_ticker"

// TickerToolInfo constrains extraction output to {ticker: string}.
var TickerToolInfo = &schema.ToolInfo{
	Name: TickerToolName,
	Desc: "Report the stock ticker symbol found in the text.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"ticker": {
			Type:     schema.String,
			Desc:     "Ticker symbol, e.g. AAPL. Empty when unknown.",
			Required: true,
		},
	}),
}

type tickerExtraction struct {
	Ticker string `json:"ticker"`
}

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}([.\-][A-Z0-9]{1,2})?$`)

// ErrNoTicker reports that no usable ticker could be extracted.
var ErrNoTicker = errors.New("could not determine ticker")

// TickerExtractor resolves a company's ticker from search text.
type TickerExtractor struct {
	gen       Generator
	modelName string
}

// NewTickerExtractor expects gen to have TickerToolInfo bound. modelName
// prices the extraction call.
func NewTickerExtractor(gen Generator, modelName string) *TickerExtractor {
	return &TickerExtractor{gen: gen, modelName: modelName}
}

// ExtractTicker returns the ticker and the USD cost of the model call, which
// is reported even when no ticker could be extracted.
func (x *TickerExtractor) ExtractTicker(ctx context.Context, companyName, searchText string) (string, float64, error) {
	msgs, err := prompts.RenderTickerExtraction(ctx, companyName, searchText, TickerToolName)
	if err != nil {
		return "", 0, err
	}
	metered := &usageMeter{Generator: x.gen}
	var got tickerExtraction
	err = Extract(ctx, metered, TickerToolName, msgs, &got)
	_, _, cost := agentmodel.ComputeCost(metered.usage, agentmodel.ResolvePricing(x.modelName))
	if err != nil {
		return "", cost, fmt.Errorf("%w: %v", ErrNoTicker, err)
	}
	ticker := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(got.Ticker), "$")))
	if !tickerPattern.MatchString(ticker) {
		return "", cost, ErrNoTicker
	}
	return ticker, cost, nil
}

// usageMeter keeps the token usage of the last response.
type usageMeter struct {
	Generator
	usage *schema.TokenUsage
}

func (m *usageMeter) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	resp, err := m.Generator.Generate(ctx, input, opts...)
	if resp != nil && resp.ResponseMeta != nil {
		m.usage = resp.ResponseMeta.Usage
	}
	return resp, err
}
