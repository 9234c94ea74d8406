package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maniltns/AEGIS/internal/api"
	"github.com/maniltns/AEGIS/internal/audit"
	"github.com/maniltns/AEGIS/internal/auth"
	"github.com/maniltns/AEGIS/internal/config"
	"github.com/maniltns/AEGIS/internal/feedback"
	"github.com/maniltns/AEGIS/internal/governance"
	"github.com/maniltns/AEGIS/internal/metrics"
	"github.com/maniltns/AEGIS/internal/pipeline"
	"github.com/maniltns/AEGIS/internal/queue"
	"github.com/maniltns/AEGIS/internal/rag"
	"github.com/maniltns/AEGIS/internal/redact"
	"github.com/maniltns/AEGIS/internal/storage"
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

	gov := governance.NewStore(rdb)
	if err := gov.EnsureDefaults(context.Background()); err != nil {
		log.Error("governance seed failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	ragClient := rag.NewClient(cfg.RAG.ServiceURL)

	server := api.NewServer(
		cfg,
		rdb,
		ragClient,
		queue.NewDriver(rdb, log),
		gov,
		redact.New(nil, log),
		pipeline.NewResults(rdb),
		audit.NewLog(rdb, log),
		feedback.NewStore(rdb),
		auth.NewService(rdb, cfg.Admin.Username, cfg.Admin.Password),
		m,
		log,
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutdown signal received, draining connections")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("🚀 AEGIS API starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
	log.Info("📊 Health check", "url", "http://localhost:"+cfg.Server.Port+"/health")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
