package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/stockbroker-core/server/internal/agent/graph"
	"github.com/stockbroker-core/server/internal/agent/graph/observers"
	"github.com/stockbroker-core/server/internal/agent/model"
	"github.com/stockbroker-core/server/internal/agent/repo"
	"github.com/stockbroker-core/server/internal/core"
	"github.com/stockbroker-core/server/internal/findata"
	"github.com/stockbroker-core/server/internal/websearch"
	logx "github.com/stockbroker-core/server/pkg/logger"
	pkgredis "github.com/stockbroker-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the agent,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	// Infrastructure; conversations stay in memory when REDIS_URL is empty
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Reasoning     model.ReasoningModelConfig
	Extraction    model.ExtractionModelConfig
	Prompt        model.PromptConfig
	Conversation  model.ConversationConfig
	FinancialData model.FinancialDataConfig
	WebSearch     model.WebSearchConfig
}

type app struct {
	cfg     AppConfig
	repo    model.ConversationRepository
	metrics *observers.Metrics
	closers []func() error
}

func loadApp(ctx context.Context) (*app, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})

	a := &app{cfg: cfg}
	if err := a.setupRepository(ctx); err != nil {
		return nil, err
	}
	if err := a.setupMetrics(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) setupRepository(ctx context.Context) error {
	if !a.cfg.Redis.Enabled() {
		logx.Info().Msg("REDIS_URL not set; conversations are kept in memory")
		a.repo = repo.NewMemoryConversationRepository()
		return nil
	}

	ttl, err := time.ParseDuration(a.cfg.Conversation.TTL)
	if err != nil {
		return fmt.Errorf("invalid CONVERSATION_TTL %q: %w", a.cfg.Conversation.TTL, err)
	}
	rdb, err := a.cfg.Redis.New(ctx)
	if err != nil {
		return fmt.Errorf("initialise redis client: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	a.repo = repo.NewRedisConversationRepository(rdb, ttl)
	logx.Debug().Msg("Connected to Redis successfully")
	return nil
}

func (a *app) setupMetrics() error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observers.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	a.metrics = metrics

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("Metrics server stopped")
		}
	}()
	a.closers = append(a.closers, srv.Close)
	logx.Info().Str("addr", a.cfg.MetricsAddr).Msg("Serving metrics")
	return nil
}

func (a *app) runner(ctx context.Context) (graph.Runner, error) {
	if a.cfg.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	fdTimeout, err := time.ParseDuration(a.cfg.FinancialData.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid FINANCIAL_DATASETS_TIMEOUT %q: %w", a.cfg.FinancialData.Timeout, err)
	}
	wsTimeout, err := time.ParseDuration(a.cfg.WebSearch.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid TAVILY_TIMEOUT %q: %w", a.cfg.WebSearch.Timeout, err)
	}

	return graph.BuildAgent(ctx, graph.Config{
		APIKey:           a.cfg.APIKey,
		BaseURL:          a.cfg.BaseURL,
		ReasoningModel:   a.cfg.Reasoning,
		ExtractionModel:  a.cfg.Extraction,
		Prompt:           a.cfg.Prompt,
		Conversation:     a.cfg.Conversation,
		ConversationRepo: a.repo,
		FinancialData:    findata.NewClient(a.cfg.FinancialData.BaseURL, a.cfg.FinancialData.APIKey, fdTimeout),
		WebSearch:        websearch.NewClient(a.cfg.WebSearch.BaseURL, a.cfg.WebSearch.APIKey, a.cfg.WebSearch.MaxResults, wsTimeout),
		Metrics:          a.metrics,
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logx.Warn().Err(err).Msg("Error during shutdown")
		}
	}
}

func resolveConversationID(id *string) string {
	if strings.TrimSpace(*id) == "" {
		*id = uuid.NewString()
		logx.Info().Str("conversation_id", *id).Msg("Started new conversation")
	}
	return *id
}

func newAskCmd(conversationID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			runner, err := a.runner(ctx)
			if err != nil {
				return err
			}
			return answer(ctx, runner, cmd.OutOrStdout(), resolveConversationID(conversationID), strings.Join(args, " "))
		},
	}
}

func newChatCmd(conversationID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			runner, err := a.runner(ctx)
			if err != nil {
				return err
			}
			id := resolveConversationID(conversationID)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Conversation %s. Type \"exit\" to quit.\n", id)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				if err := answer(ctx, runner, out, id, line); err != nil {
					// contract violations end the turn, not the session
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
			}
		},
	}
}

func newResetCmd(conversationID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete a conversation's history and pending purchase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(*conversationID) == "" {
				return errors.New("--conversation is required")
			}
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.repo.ClearHistory(ctx, *conversationID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s cleared.\n", *conversationID)
			return nil
		},
	}
}

func answer(ctx context.Context, runner graph.Runner, out io.Writer, conversationID, query string) error {
	res, err := runner.Invoke(ctx, model.QueryInput{ConversationID: conversationID, Query: query})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, strings.TrimSpace(res.Answer.Content))
	if res.Conversation.Pending != nil {
		p := res.Conversation.Pending
		fmt.Fprintf(out, "(awaiting confirmation: %d share(s) of %s, max %s)\n", p.Quantity, p.Ticker, p.MaxPurchasePrice)
	}
	return nil
}
