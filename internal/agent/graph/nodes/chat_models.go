package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/stockbroker-core/server/internal/agent/model"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey           string
	BaseURL          string
	ReasoningConfig  *model.ReasoningModelConfig
	ExtractionConfig *model.ExtractionModelConfig
}

// ChatModels holds the tool-selecting reasoning model and the extraction model
type ChatModels struct {
	Reasoning           *gemini.ChatModel
	Extraction          *gemini.ChatModel
	ReasoningModelName  string
	ExtractionModelName string
}

// NewChatModels creates both Gemini chat models over one genai client
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.ReasoningConfig == nil || config.ExtractionConfig == nil {
		return nil, fmt.Errorf("chat model configs are nil")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	reasoning, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ReasoningConfig.Model,
		Temperature: &config.ReasoningConfig.Temperature,
		MaxTokens:   &config.ReasoningConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(2000)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating reasoning model")
		return nil, fmt.Errorf("error creating reasoning model: %w", err)
	}

	// extraction is a single constrained call, no thinking budget
	extraction, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ExtractionConfig.Model,
		Temperature: &config.ExtractionConfig.Temperature,
		MaxTokens:   &config.ExtractionConfig.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating extraction model")
		return nil, fmt.Errorf("error creating extraction model: %w", err)
	}

	return &ChatModels{
		Reasoning:           reasoning,
		Extraction:          extraction,
		ReasoningModelName:  config.ReasoningConfig.Model,
		ExtractionModelName: config.ExtractionConfig.Model,
	}, nil
}

// BindReasoningTools binds the tool catalog to the reasoning model
func (cm *ChatModels) BindReasoningTools(tools []*schema.ToolInfo) error {
	if err := cm.Reasoning.BindTools(tools); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools to reasoning model")
		return fmt.Errorf("failed to bind tools: %w", err)
	}
	logx.Debug().Int("tools", len(tools)).Msg("Successfully bound tools to reasoning model")
	return nil
}

// BindExtractionTool forces the extraction model to answer through info
func (cm *ChatModels) BindExtractionTool(info *schema.ToolInfo) error {
	if err := cm.Extraction.BindForcedTools([]*schema.ToolInfo{info}); err != nil {
		logx.Error().Err(err).Str("tool_name", info.Name).Msg("Failed to bind extraction tool")
		return fmt.Errorf("failed to bind extraction tool: %w", err)
	}
	return nil
}
