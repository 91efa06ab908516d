package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/csnsor/bs-webpanel-sub000/internal/bot"
	"github.com/csnsor/bs-webpanel-sub000/internal/config"
	"github.com/csnsor/bs-webpanel-sub000/internal/crash"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/service"
)

func main() {
	defer crash.RecoverWithStackAndExit("main")

	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Setup(cfg); err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tgBot, err := bot.NewBot(cfg)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	review := bot.NewReview(tgBot, cfg.Review.ChatID, cfg.Review.LogChatID)

	svc, err := service.New(ctx, cfg, review)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	defer svc.Close()

	server := bot.NewWebhookServer(cfg.Server.ListenPort, cfg.Server.CertFile, cfg.Server.KeyFile)
	server.Mux().Handle("/", svc.Handler())

	callbacks := bot.NewCallbacks(tgBot, svc.Processor, cfg.Review.ChatID, cfg.Review.ModeratorIDs)
	botService, err := bot.Initialize(ctx, tgBot, cfg, server, callbacks)
	if err != nil {
		log.Fatalf("Failed to initialize bot: %v", err)
	}

	crash.SafeGoroutine("http-server", func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	})

	svc.StartMaintenance(ctx)
	crash.SafeGoroutine("bot-handler", botService.Start)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGABRT, syscall.SIGQUIT)

	sig := <-sigChan
	logger.Infof("Received signal: %v, shutting down...", sig)

	botService.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	logger.Info("Server gracefully stopped")
}
