// Command bmlibrarian-core runs the task queue worker pool: it loads
// configuration, opens the durable queue, wires the LLM gateway and
// specialized agents, and dispatches claimed tasks to the research
// pipeline until terminated.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/agent"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/cleanup"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/config"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/document"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/events"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/llm"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/orchestrator"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/pipeline"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/queue"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "config_dir", *configDir)

	staleLease := time.Duration(cfg.Queue.StaleLeaseSeconds) * time.Second
	if staleLease <= 0 {
		staleLease = 10 * time.Duration(cfg.Orchestrator.PollingIntervalMs) * time.Millisecond
	}
	q, err := queue.Open(queue.Config{
		Path:            cfg.Queue.Path,
		StaleLeaseAfter: staleLease,
		CleanupAge:      time.Duration(cfg.Queue.CleanupAgeHours) * time.Hour,
	})
	if err != nil {
		slog.Error("failed to open task queue", "error", err)
		os.Exit(1)
	}
	defer q.Close()
	slog.Info("task queue opened", "path", cfg.Queue.Path)

	bus := events.NewBus()
	gateway := buildGateway(cfg)
	backend := buildSearchBackend()

	query := agent.NewQueryAgent(agentConfig(cfg.Agents.QueryAgent, cfg.LLM.DefaultModel, gateway), backend)
	scoring := agent.NewScoringAgent(agentConfig(cfg.Agents.ScoringAgent, cfg.LLM.DefaultModel, gateway))
	citation := agent.NewCitationFinderAgent(agentConfig(cfg.Agents.CitationAgent, cfg.LLM.DefaultModel, gateway))
	reporting := agent.NewReportingAgent(agentConfig(cfg.Agents.ReportingAgent, cfg.LLM.DefaultModel, gateway))
	counterfactual := agent.NewCounterfactualAgent(agentConfig(cfg.Agents.CounterfactualAgent, cfg.LLM.DefaultModel, gateway))
	verdict := agent.NewVerdictAgent(agentConfig(cfg.Agents.VerdictAgent, cfg.LLM.DefaultModel, gateway), cfg.Agents.VerdictAgent.MinRationaleLength)

	controller := pipeline.New(pipeline.Config{
		MinRelevant:    cfg.Search.MinRelevant,
		ScoreThreshold: cfg.Search.ScoreThreshold,
		MaxRetry:       cfg.Search.MaxRetry,
		BatchSize:      cfg.Search.BatchSize,
		MinRelevance:   cfg.Agents.CitationAgent.MinRelevance,
		MinCitations:   cfg.Agents.ReportingAgent.MinCitations,
	}, query, scoring, citation, reporting, counterfactual, verdict, gateway, bus)

	orc := orchestrator.New(q, bus, orchestrator.Config{
		WorkerCount:     cfg.Orchestrator.MaxWorkers,
		PollMaxInterval: time.Duration(cfg.Orchestrator.PollingIntervalMs) * time.Millisecond,
	})
	orc.RegisterAgent("pipeline", orchestrator.Handlers{
		"research":    researchHandler(controller),
		"check_paper": checkPaperHandler(controller),
	})

	orc.AddProgressCallback(func(e events.Event) {
		slog.Info("event", "type", e.Type, "message", e.Message)
	})

	cleanupSvc := cleanup.NewService(cleanup.Config{
		Interval: 10 * time.Minute,
		MaxAge:   time.Duration(cfg.Queue.CleanupAgeHours) * time.Hour,
	}, q)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orc.Start(ctx); err != nil {
		slog.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}
	cleanupSvc.Start(ctx)
	slog.Info("bmlibrarian-core started", "workers", cfg.Orchestrator.MaxWorkers)

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight tasks")
	cleanupSvc.Stop()
	orc.StopWithDeadline(30 * time.Second)
	slog.Info("bmlibrarian-core stopped")
}

// agentConfig projects one section of the loaded configuration onto the
// agent framework's Config shape, resolving a blank model to the
// gateway-wide default.
func agentConfig(a config.AgentConfig, defaultModel string, gw *llm.Gateway) agent.Config {
	model := a.Model
	if model == "" {
		model = defaultModel
	}
	return agent.Config{
		Model:       model,
		Temperature: a.Temperature,
		TopP:        a.TopP,
		MaxTokens:   a.MaxTokens,
		Gateway:     gw,
	}
}

func buildGateway(cfg *config.Config) *llm.Gateway {
	providers := make(map[string]llm.Provider, len(cfg.LLM.Providers))
	for name, p := range cfg.LLM.Providers {
		apiKey := ""
		if p.APIKeyEnv != "" {
			apiKey = os.Getenv(p.APIKeyEnv)
		}
		providers[name] = llm.NewHTTPProvider(name, p.BaseURL, apiKey, &http.Client{
			Timeout: time.Duration(cfg.LLM.PerCallTimeoutSeconds) * time.Second,
		})
	}

	rates := make(map[string]llm.ModelRate, len(cfg.LLM.CostTable))
	for model, entry := range cfg.LLM.CostTable {
		rates[model] = llm.ModelRate{PromptPer1K: entry.PromptPer1K, CompletionPer1K: entry.CompletionPer1K}
	}

	gw, err := llm.NewGateway(llm.Config{
		DefaultProvider: cfg.LLM.DefaultProvider,
		FallbackModel:   cfg.LLM.FallbackModel,
		PerCallTimeout:  time.Duration(cfg.LLM.PerCallTimeoutSeconds) * time.Second,
	}, providers, llm.NewCostTable(rates))
	if err != nil {
		slog.Error("failed to build LLM gateway", "error", err)
		os.Exit(1)
	}
	return gw
}

// buildSearchBackend wires the document search client against the
// externally-hosted full-text index (spec Non-goal: this module never
// owns that index itself).
func buildSearchBackend() document.SearchBackend {
	baseURL := getEnv("DOCUMENT_BACKEND_URL", "http://localhost:8000")
	apiKey := os.Getenv("DOCUMENT_BACKEND_API_KEY")
	return document.NewHTTPBackend(baseURL, apiKey, nil)
}

func researchHandler(controller *pipeline.Controller) orchestrator.Handler {
	return func(ctx context.Context, data map[string]any) (map[string]any, error) {
		question, _ := data["question"].(string)
		if question == "" {
			return nil, errors.New("pipeline: research task requires a non-empty \"question\"")
		}
		report, err := controller.Research(ctx, question)
		if err != nil {
			return nil, err
		}
		return map[string]any{"report": report}, nil
	}
}

func checkPaperHandler(controller *pipeline.Controller) orchestrator.Handler {
	return func(ctx context.Context, data map[string]any) (map[string]any, error) {
		title, _ := data["title"].(string)
		abstract, _ := data["abstract"].(string)
		if abstract == "" {
			return nil, errors.New("pipeline: check_paper task requires a non-empty \"abstract\"")
		}
		result, err := controller.CheckPaper(ctx, title, abstract)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": result}, nil
	}
}
