package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maniltns/AEGIS/internal/audit"
	"github.com/maniltns/AEGIS/internal/classify"
	"github.com/maniltns/AEGIS/internal/config"
	"github.com/maniltns/AEGIS/internal/enrich"
	"github.com/maniltns/AEGIS/internal/executor"
	"github.com/maniltns/AEGIS/internal/governance"
	"github.com/maniltns/AEGIS/internal/llm"
	"github.com/maniltns/AEGIS/internal/metrics"
	"github.com/maniltns/AEGIS/internal/pipeline"
	"github.com/maniltns/AEGIS/internal/queue"
	"github.com/maniltns/AEGIS/internal/rag"
	"github.com/maniltns/AEGIS/internal/redact"
	"github.com/maniltns/AEGIS/internal/remediation"
	"github.com/maniltns/AEGIS/internal/servicenow"
	"github.com/maniltns/AEGIS/internal/storage"
	"github.com/maniltns/AEGIS/internal/stormshield"
	"github.com/maniltns/AEGIS/internal/teams"
	"github.com/maniltns/AEGIS/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using environment")
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(os.Getenv("AEGIS_CONFIG"))
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	rdb, err := storage.Connect(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	llmClient, err := llm.New(llm.Settings{
		Provider:       cfg.LLM.Provider,
		AnthropicKey:   cfg.LLM.AnthropicKey,
		AnthropicModel: cfg.LLM.AnthropicModel,
		OpenAIKey:      cfg.LLM.OpenAIKey,
		OpenAIModel:    cfg.LLM.OpenAIModel,
	})
	if err != nil {
		log.Error("llm init failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	gov := governance.NewStore(rdb)
	ragClient := rag.NewClient(cfg.RAG.ServiceURL)
	snow := servicenow.NewClient(cfg.ServiceNow.Instance, cfg.ServiceNow.User, cfg.ServiceNow.Password)
	teamsClient := teams.NewClient(cfg.Teams.WebhookURL, cfg.Server.PublicBaseURL, log)
	runner := remediation.NewRunner(cfg.Remediation.CommandServiceURL, gov, log)

	pipe := pipeline.New(
		redact.New(nil, log),
		stormshield.New(ragClient, rdb, log),
		enrich.New(ragClient, snow, log),
		classify.New(llmClient),
		executor.New(gov, snow, teamsClient, runner, m, log),
		gov,
		m,
		log,
	)

	q := queue.NewDriver(rdb, log)
	w := worker.New(
		q,
		pipe,
		pipeline.NewResults(rdb),
		audit.NewLog(rdb, log),
		m,
		time.Duration(cfg.Worker.ClaimTTLSeconds)*time.Second,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("🚀 AEGIS worker starting",
		"redis", cfg.Redis.Addr(), "llm_provider", cfg.LLM.Provider)

	if depths, err := q.Depths(ctx); err == nil {
		log.Info("queue stats",
			"pending", depths.Pending, "processing", depths.Processing, "dead_letter", depths.DeadLetter)
	}

	w.Run(ctx)
}
