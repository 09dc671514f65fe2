// cmd/server/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"partnerscope/internal/catalog"
	"partnerscope/internal/common/config"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/llm"
	"partnerscope/internal/server"
	"partnerscope/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info", "console")
		fallback.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting partnerscope server",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	// --- Curated catalog source ---
	var source catalog.Source
	if cfg.Catalog.Postgres.Enabled() {
		pg, err := catalog.OpenPostgres(cfg.Catalog.Postgres, log)
		if err != nil {
			zapLog.Fatal("postgres catalog init failed", zap.Error(err))
		}
		defer pg.Close()
		source = pg
	} else if cfg.Catalog.CSVPath != "" {
		source = catalog.NewCSVSource(cfg.Catalog.CSVPath)
	} else {
		zapLog.Warn("no curated catalog configured, search runs web-only")
	}

	// --- LLM gateway ---
	prices, err := llm.LoadPriceTable(cfg.LLM.PriceTablePath)
	if err != nil {
		zapLog.Fatal("price table load failed", zap.Error(err))
	}
	gateway := llm.NewClient(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		CallTimeout:    config.GetDuration(cfg.LLM.CallTimeout),
		MaxRetries:     cfg.LLM.MaxRetries,
		RepairRetries:  cfg.LLM.RepairRetries,
		MaxConcurrent:  cfg.LLM.MaxConcurrent,
		RequestsPerMin: cfg.LLM.RequestsPerMin,
	}, prices, log)

	// --- Session persistence ---
	var backend session.Backend
	if cfg.Session.Redis.Address != "" {
		rb, err := session.NewRedisBackend(cfg.Session.Redis, log)
		if err != nil {
			zapLog.Fatal("redis backend init failed", zap.Error(err))
		}
		backend = rb
	}

	manager := session.NewManager(cfg, gateway, source, backend, log)
	defer manager.Close()

	srv := server.New(cfg, manager, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zapLog.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zapLog.Fatal("server failed", zap.Error(err))
		}
		return
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		zapLog.Error("graceful shutdown failed", zap.Error(err))
	}
	zapLog.Info("server stopped")
}
