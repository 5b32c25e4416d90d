package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/adapter/loopback"
	"github.com/schematichub/overview-gateway/internal/adapter/xai"
	"github.com/schematichub/overview-gateway/internal/config"
	"github.com/schematichub/overview-gateway/internal/health"
	"github.com/schematichub/overview-gateway/internal/history"
	"github.com/schematichub/overview-gateway/internal/history/github"
	"github.com/schematichub/overview-gateway/internal/hooks"
	"github.com/schematichub/overview-gateway/internal/metrics"
	"github.com/schematichub/overview-gateway/internal/overview"
	"github.com/schematichub/overview-gateway/internal/prompts"
	"github.com/schematichub/overview-gateway/internal/summarystore"
	"github.com/schematichub/overview-gateway/internal/summarystore/postgres"
	"github.com/schematichub/overview-gateway/internal/summarystore/sqlite"
)

// Gateway holds the assembled components shared by gatewayd and gatewayctl.
type Gateway struct {
	Config       config.GatewayConfig
	Chat         adapter.StreamingChatAdapter
	Prompts      *prompts.Catalog
	Store        summarystore.Store
	History      *history.Cache
	Generator    overview.Generator
	Hooks        *hooks.Dispatcher
	Metrics      *metrics.Collector
	Health       *health.Checker
	Orchestrator *overview.Orchestrator

	logger *log.Logger
}

// Build wires every component from cfg. A provider that cannot be configured
// (for example a missing xAI key) does not fail the build: it is replaced by
// adapter.Unavailable so the error surfaces on first use.
func Build(cfg config.GatewayConfig, logger *log.Logger) (*Gateway, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	g := &Gateway{Config: cfg, logger: logger, Hooks: &hooks.Dispatcher{}, Metrics: metrics.NewCollector()}

	catalog, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	g.Prompts = catalog

	g.Chat = newChatAdapter(cfg, logger)

	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	g.Store = store

	source := github.New(github.Config{
		BaseURL: cfg.GitHubBaseURL,
		Token:   cfg.GitHubToken,
		Logger:  log.New(logger.Writer(), "[history] ", log.LstdFlags|log.Lmicroseconds),
	})
	g.History = history.NewCache(source, cfg.HistoryCacheTTL)

	switch cfg.OverviewGenerator {
	case config.GeneratorProvider:
		g.Generator = &overview.ProviderGenerator{Adapter: g.Chat, Model: cfg.SummaryModel, Prompt: catalog.CommitOverview}
	default:
		g.Generator = overview.PlaceholderGenerator{}
	}

	cfg.Hooks.Install(g.Hooks)
	if cfg.Debug() {
		g.Hooks.Register(func(_ context.Context, evt hooks.Event) error {
			logger.Printf("DEBUG hook %s repo=%s run=%s meta=%v", evt.Type, evt.Repo, evt.RunID, evt.Metadata)
			return nil
		})
	}

	g.Orchestrator, err = overview.New(overview.Config{
		Store:     g.Store,
		History:   g.History,
		Generator: g.Generator,
		Hooks:     g.Hooks,
		Metrics:   g.Metrics,
		Logger:    log.New(logger.Writer(), "[overview] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		_ = g.Store.Close()
		return nil, fmt.Errorf("core: %w", err)
	}

	endpoints := map[string]string{}
	if cfg.Provider == config.ProviderXAI {
		endpoints["xai_api"] = cfg.XAIBaseURL
	}
	g.Health = health.New(health.Config{
		Stores:    map[string]health.Pinger{"summary_store": g.Store},
		Endpoints: endpoints,
	})

	logger.Printf("gateway assembled provider=%s generator=%s store=%s hooks=%d", cfg.Provider, cfg.OverviewGenerator, cfg.Store.Driver, g.Hooks.Len())
	return g, nil
}

// Close releases the summary store.
func (g *Gateway) Close() error {
	if g.Store == nil {
		return nil
	}
	return g.Store.Close()
}

func newChatAdapter(cfg config.GatewayConfig, logger *log.Logger) adapter.StreamingChatAdapter {
	if cfg.Provider == config.ProviderLoopback {
		return loopback.New()
	}
	a, err := xai.New(xai.Config{
		APIKey:         cfg.XAIAPIKey,
		BaseURL:        cfg.XAIBaseURL,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		var cfgErr *adapter.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Printf("chat provider unavailable: %v", err)
		}
		return adapter.Unavailable{Err: err}
	}
	return a
}

func openStore(cfg config.StoreConfig) (summarystore.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.StorePostgres:
		return postgres.New(cfg.DSN, postgres.PoolConfig{
			MaxOpen:         cfg.MaxOpen,
			MaxIdle:         cfg.MaxIdle,
			LifetimeMinutes: cfg.LifetimeMinutes,
			IdleTimeMinutes: cfg.IdleTimeMinutes,
		})
	case config.StoreSQLite, "":
		return sqlite.New(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
