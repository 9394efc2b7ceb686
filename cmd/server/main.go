package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"DipRecovery/internal/api"
	"DipRecovery/internal/collector"
	"DipRecovery/internal/config"
	"DipRecovery/internal/notifier"
	"DipRecovery/internal/query"
	"DipRecovery/internal/recorder"
	"DipRecovery/internal/scheduler"
	"DipRecovery/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[WARN] .env not loaded: %v", err)
	}

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("[FATAL] init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("DipRecovery starting", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init source
	var src collector.Source
	switch cfg.Data.Source {
	case config.SourceYahoo:
		src = collector.NewYahooSource(cfg.Data.YahooBaseURL, cfg.YahooSymbolList(), cfg.Data.YahooRange, cfg.Proxy, logger)
	default:
		src = collector.NewCSVSource(
			cfg.DataPath(cfg.Data.StocksFile),
			cfg.DataPath(cfg.Data.CompaniesFile),
			cfg.DataPath(cfg.Data.IndexFile),
			logger)
	}
	logger.Info("data source", zap.String("source", src.Name()))

	st := store.New()
	col := collector.NewCollector(src, st, logger)
	eng := query.NewEngine(st, logger,
		query.WithTargets(cfg.Analysis.RecoveryTargets),
		query.WithWindows(cfg.Analysis.SuccessWindows),
		query.WithDefaultThreshold(cfg.Analysis.DefaultThreshold))

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, logger)
		if err != nil {
			logger.Warn("init sqlite recorder failed, using noop", zap.Error(err))
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Init Telegram notifier
	var tn *notifier.TelegramNotifier
	var sender scheduler.Sender
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
		sender = tn
	}

	sched := scheduler.NewScheduler(ctx, col, eng, sender, rec, logger)
	sched.DigestSize = cfg.Analysis.DigestSize
	if err := sched.RegisterAll(cfg.Schedule.ReloadCron); err != nil {
		logger.Fatal("register cron tasks", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		logger.Info("telegram polling started")
	}

	srv := api.NewHTTPServer(cfg.Server.Addr, api.NewServer(eng, sched, logger).Routes(),
		cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	// Queries answer 503 until the first load lands.
	go sched.RunReloadNow()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	logger.Info("DipRecovery stopped")
}
