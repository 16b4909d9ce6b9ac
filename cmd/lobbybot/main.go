// Package main runs a headless lobby participant that creates or joins a lobby
// and broadcasts on a fixed cadence until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobbylink/internal/app"
	"github.com/cory-johannsen/lobbylink/internal/bot"
	"github.com/cory-johannsen/lobbylink/internal/config"
	"github.com/cory-johannsen/lobbylink/internal/lobby"
	"github.com/cory-johannsen/lobbylink/internal/observability"
	"github.com/cory-johannsen/lobbylink/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	joinID := flag.String("join", "", "lobby id to join instead of creating one (grpc provider only; a loopback bot is alone on its own network)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := checkJoin(cfg, *joinID); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	if *printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			log.Fatalf("printing config: %v", err)
		}
		return
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting lobby bot",
		zap.String("name", cfg.Bot.Name),
		zap.String("provider", cfg.Provider.Kind),
	)

	provider, closeProvider, err := app.Connect(ctx, cfg, app.ProvideNetwork(cfg), cfg.Bot.Name, logger)
	if err != nil {
		logger.Fatal("connecting provider", zap.Error(err))
	}
	defer closeProvider()

	b := bot.New(cfg.Bot.Name, provider, logger, cfg.Lobby.CoordinatorOptions(), app.BotConfig(cfg))
	b.Coordinator().AddSink(lobby.LogSink(logger.Named("notify")))

	journal, closeJournal, err := app.ProvideJournal(ctx, cfg, provider, b.Coordinator(), logger)
	if err != nil {
		logger.Fatal("starting journal", zap.Error(err))
	}
	defer closeJournal()

	if *joinID != "" {
		id, err := lobby.ParseSessionID(*joinID)
		if err != nil {
			logger.Fatal("parsing -join", zap.Error(err))
		}
		if err := b.Coordinator().RequestJoin(id); err != nil {
			logger.Fatal("joining lobby", zap.Error(err))
		}
	} else if err := b.Start(); err != nil {
		logger.Fatal("starting bot", zap.Error(err))
	}

	ticker := app.ProvideTicker(cfg)
	b.Attach(ticker)

	lifecycle := server.NewLifecycle(logger)
	if journal != nil {
		lifecycle.Add("journal", server.NewLoopService(journal.Run))
	}
	lifecycle.Add("ticker", server.NewLoopService(ticker.Run))

	logger.Info("lobby bot ready",
		zap.Stringer("member", b.Member()),
		zap.Duration("tick_interval", ticker.Interval()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("lobby bot stopped with error", zap.Error(err))
	}

	stats := b.Stats()
	fields := []zap.Field{
		zap.Int64("ticks", stats.Ticks),
		zap.Int64("broadcasts", stats.Broadcasts),
		zap.Int64("sent", stats.Sent),
		zap.Int64("send_failed", stats.SendFailed),
		zap.Int64("received", stats.Received),
	}
	if journal != nil {
		fields = append(fields, zap.Int64("journal_written", journal.Written()), zap.Int64("journal_dropped", journal.Dropped()))
	}
	logger.Info("lobby bot finished", fields...)
}

// checkJoin rejects -join for the loopback provider, whose network is private
// to this process and so never holds the requested lobby.
func checkJoin(cfg config.Config, joinID string) error {
	if joinID == "" {
		return nil
	}
	if cfg.Provider.Kind == "loopback" {
		return fmt.Errorf("-join %s needs provider.kind=grpc: a loopback bot has no peers to join", joinID)
	}
	if _, err := lobby.ParseSessionID(joinID); err != nil {
		return fmt.Errorf("-join: %w", err)
	}
	return nil
}
