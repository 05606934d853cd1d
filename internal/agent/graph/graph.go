package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"

	"github.com/stockbroker-core/server/internal/agent/graph/conversations"
	"github.com/stockbroker-core/server/internal/agent/graph/nodes"
	"github.com/stockbroker-core/server/internal/agent/graph/observers"
	"github.com/stockbroker-core/server/internal/agent/graph/prompts"
	"github.com/stockbroker-core/server/internal/agent/graph/purchase"
	"github.com/stockbroker-core/server/internal/agent/graph/reasoning"
	"github.com/stockbroker-core/server/internal/agent/graph/tools"
	"github.com/stockbroker-core/server/internal/agent/model"
	"github.com/stockbroker-core/server/internal/findata"
	"github.com/stockbroker-core/server/internal/websearch"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

// DefaultMaxSteps bounds graph super-steps per turn when none is configured.
const DefaultMaxSteps = 40

// Runner executes one conversation turn.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.TurnResult, error)
}

// Config holds everything needed to compose the agent end-to-end.
// This is a convenience layer over GraphConfig that also constructs the
// chat models, the tool registry and the purchase handlers.
type Config struct {
	APIKey           string
	BaseURL          string
	ReasoningModel   model.ReasoningModelConfig
	ExtractionModel  model.ExtractionModelConfig
	Prompt           model.PromptConfig
	Conversation     model.ConversationConfig
	ConversationRepo model.ConversationRepository
	FinancialData    *findata.Client
	WebSearch        *websearch.Client

	// Broker defaults to a SimulatedBroker.
	Broker  purchase.Broker
	Metrics *observers.Metrics
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Registry           *tools.Registry
	Reasoner           nodes.Reasoner
	Preparer           nodes.Preparer
	Executor           nodes.Executor
	ReasoningModelName string
	MaxSteps           int

	// PendingStore, when set, is settled before a purchase executes.
	PendingStore nodes.PendingStore
}

// GraphBuilder handles the construction of the agent graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[*model.TurnInput, *model.TurnResult]
}

type graphRunner struct {
	runnable  compose.Runnable[*model.TurnInput, *model.TurnResult]
	mm        *conversations.MessagesManager
	callbacks einocb.Handler
	locks     conversationLocks
}

// conversationLocks serializes turns per conversation. An entry lives only
// while some turn holds or waits for it.
type conversationLocks struct {
	mu   sync.Mutex
	byID map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

func (l *conversationLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.byID == nil {
		l.byID = map[string]*conversationLock{}
	}
	c, ok := l.byID[id]
	if !ok {
		c = &conversationLock{}
		l.byID[id] = c
	}
	c.refs++
	l.mu.Unlock()

	c.mu.Lock()
	return func() {
		c.mu.Unlock()
		l.mu.Lock()
		c.refs--
		if c.refs == 0 {
			delete(l.byID, id)
		}
		l.mu.Unlock()
	}
}

func (l *conversationLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// NewRunner wraps a compiled graph with conversation loading and persistence.
func NewRunner(runnable compose.Runnable[*model.TurnInput, *model.TurnResult], mm *conversations.MessagesManager, metrics *observers.Metrics) Runner {
	return &graphRunner{
		runnable:  runnable,
		mm:        mm,
		callbacks: observers.NewAllCallbacks(metrics),
	}
}

// Invoke runs one turn. Nothing is persisted when the turn fails.
func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.TurnResult, error) {
	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}

	// turns of one conversation never overlap
	unlock := r.locks.lock(conversationID)
	defer unlock()

	conv, err := r.mm.Load(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	out, err := r.runnable.Invoke(ctx, &model.TurnInput{
		Conversation: conv,
		Query:        in.Query,
	}, compose.WithCallbacks(r.callbacks))
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("Turn failed")
		return nil, err
	}

	if err := r.mm.SaveTurn(ctx, conversationID, out.NewMessages, out.Conversation.Pending); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	logx.Info().
		Str("conversation_id", conversationID).
		Int("new_messages", len(out.NewMessages)).
		Bool("has_pending", out.Conversation.Pending != nil).
		Float64("total_cost_usd", out.TotalCostUSD).
		Msg("Turn completed")
	return out, nil
}

// BuildAgent composes chat models, collaborators and the graph, and returns a Runner.
func BuildAgent(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.ConversationRepo == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if cfg.FinancialData == nil || cfg.WebSearch == nil {
		return nil, fmt.Errorf("financial data and web search clients are required")
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:           cfg.APIKey,
		BaseURL:          cfg.BaseURL,
		ReasoningConfig:  &cfg.ReasoningModel,
		ExtractionConfig: &cfg.ExtractionModel,
	})
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(cfg.FinancialData, cfg.WebSearch)
	if err != nil {
		return nil, err
	}
	if err := cms.BindReasoningTools(registry.Infos()); err != nil {
		return nil, err
	}
	if err := cms.BindExtractionTool(reasoning.TickerToolInfo); err != nil {
		return nil, err
	}

	promptCfg := cfg.Prompt
	engine := reasoning.NewEngine(cms.Reasoning, func(ctx context.Context, pending *model.PendingPurchase) (string, error) {
		return prompts.RenderSystem(ctx, promptCfg, pending)
	})

	broker := cfg.Broker
	if broker == nil {
		broker = purchase.NewSimulatedBroker()
	}
	var recorder purchase.Recorder
	if cfg.Metrics != nil {
		recorder = cfg.Metrics
	}

	runnable, err := BuildGraph(ctx, &GraphConfig{
		Registry:           registry,
		Reasoner:           engine,
		Preparer:           purchase.NewPreparer(cfg.FinancialData, cfg.WebSearch, reasoning.NewTickerExtractor(cms.Extraction, cms.ExtractionModelName)),
		Executor:           purchase.NewExecutor(broker, recorder),
		ReasoningModelName: cms.ReasoningModelName,
		MaxSteps:           cfg.Conversation.MaxSteps,
		PendingStore:       cfg.ConversationRepo,
	})
	if err != nil {
		return nil, err
	}

	mm := conversations.NewMessagesManager(cfg.ConversationRepo, cfg.Conversation)

	logx.Debug().Strs("tools", registry.Names()).Msg("Agent graph built successfully")
	return NewRunner(runnable, mm, cfg.Metrics), nil
}

// NewRegistry builds the fixed tool catalog.
func NewRegistry(fd tools.FinancialData, ws tools.WebSearcher) (*tools.Registry, error) {
	catalog := tools.FinancialTools(fd)
	catalog = append(catalog,
		tools.WebSearchTool(ws),
		tools.PurchaseTool(),
		tools.CancelPurchaseTool(),
	)
	registry, err := tools.NewRegistry(catalog...)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to build tool registry")
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	return registry, nil
}

// BuildGraph constructs and returns the compiled agent graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[*model.TurnInput, *model.TurnResult], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Registry == nil || config.Reasoner == nil || config.Preparer == nil || config.Executor == nil {
		return nil, fmt.Errorf("graph components are not properly initialized")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[*model.TurnInput, *model.TurnResult](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}
	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// setupTools adds the tools node that runs dispatched calls in parallel
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               b.config.Registry.BaseTools(),
		ExecuteSequentially: false,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown tool call; returning error result")
			return tools.UnknownToolText(name), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	if err := b.graph.AddToolsNode(nodes.NodeDispatchTools, toolsNode,
		compose.WithStatePreHandler(nodes.NewDispatchToolsPreHandler()),
		compose.WithOutputKey(nodes.NodeDispatchTools),
	); err != nil {
		return fmt.Errorf("error adding tools node: %w", err)
	}
	return nil
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	steps := []struct {
		key string
		add func() error
	}{
		{nodes.NodeLoadConversation, func() error {
			return b.graph.AddLambdaNode(nodes.NodeLoadConversation,
				nodes.NewLoadConversationNode(),
				compose.WithStatePreHandler(nodes.NewLoadConversationPreHandler()),
			)
		}},
		{nodes.NodeReason, func() error {
			return b.graph.AddLambdaNode(nodes.NodeReason,
				nodes.NewReasonNode(b.config.Reasoner),
				compose.WithStatePostHandler(nodes.NewReasonPostHandler(b.config.ReasoningModelName)),
			)
		}},
		{nodes.NodePreparePurchase, func() error {
			return b.graph.AddLambdaNode(nodes.NodePreparePurchase,
				nodes.NewPreparePurchaseNode(b.config.Preparer),
				compose.WithOutputKey(nodes.NodePreparePurchase),
			)
		}},
		{nodes.NodeExecutePurchase, func() error {
			return b.graph.AddLambdaNode(nodes.NodeExecutePurchase,
				nodes.NewExecutePurchaseNode(b.config.Executor, b.config.PendingStore),
				compose.WithOutputKey(nodes.NodeExecutePurchase),
			)
		}},
		{nodes.NodeMergeResults, func() error {
			return b.graph.AddLambdaNode(nodes.NodeMergeResults, nodes.NewMergeResultsNode())
		}},
		{nodes.NodeFinalize, func() error {
			return b.graph.AddLambdaNode(nodes.NodeFinalize, nodes.NewFinalizeNode())
		}},
	}

	for _, step := range steps {
		if err := step.add(); err != nil {
			logx.Error().Err(err).Str("node", step.key).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", step.key, err)
		}
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeLoadConversation},
		{nodes.NodeLoadConversation, nodes.NodeReason},
		{nodes.NodeDispatchTools, nodes.NodeMergeResults},
		{nodes.NodePreparePurchase, nodes.NodeMergeResults},
		{nodes.NodeExecutePurchase, nodes.NodeMergeResults},
		{nodes.NodeMergeResults, nodes.NodeReason},
		{nodes.NodeFinalize, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates the routing branch after each reasoning step
func (b *GraphBuilder) addBranches() error {
	routeBranch := compose.NewGraphMultiBranch(
		nodes.NewRouteCondition(),
		map[string]bool{
			nodes.NodeFinalize:        true,
			nodes.NodeExecutePurchase: true,
			nodes.NodeDispatchTools:   true,
			nodes.NodePreparePurchase: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeReason, routeBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding route branch")
		return fmt.Errorf("error adding route branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[*model.TurnInput, *model.TurnResult], error) {
	// Limit total run steps so a model that never stops calling tools cannot loop forever
	maxSteps := b.config.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("stockbroker_agent"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(maxSteps),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Int("max_steps", maxSteps).Msg("Graph compiled successfully")
	return runnable, nil
}
