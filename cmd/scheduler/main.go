package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maniltns/AEGIS/internal/backsync"
	"github.com/maniltns/AEGIS/internal/config"
	"github.com/maniltns/AEGIS/internal/rag"
	"github.com/maniltns/AEGIS/internal/servicenow"
)

func main() {
	runOnce := flag.Bool("once", false, "run a single sync pass and exit")
	flag.Parse()

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

	snow := servicenow.NewClient(cfg.ServiceNow.Instance, cfg.ServiceNow.User, cfg.ServiceNow.Password)
	ragClient := rag.NewClient(cfg.RAG.ServiceURL)
	syncer := backsync.New(snow, ragClient, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *runOnce {
		log.Info("running single sync pass")
		if err := syncer.Run(ctx); err != nil {
			log.Error("sync failed", "error", err)
			os.Exit(1)
		}
		log.Info("✅ sync completed")
		return
	}

	log.Info("🚀 AEGIS scheduler starting", "job", "weekly ServiceNow sync (Sunday 02:00 UTC)")
	syncer.Schedule(ctx)
	log.Info("scheduler stopped")
}
