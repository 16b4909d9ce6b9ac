// Package app assembles lobbylink components from configuration. Its
// constructors are wire providers shared by the demo and the bot binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobbylink/internal/bot"
	"github.com/cory-johannsen/lobbylink/internal/config"
	"github.com/cory-johannsen/lobbylink/internal/lobby"
	"github.com/cory-johannsen/lobbylink/internal/lobby/lobbyrpc"
	"github.com/cory-johannsen/lobbylink/internal/lobby/loopback"
	"github.com/cory-johannsen/lobbylink/internal/loop"
	"github.com/cory-johannsen/lobbylink/internal/observability"
	"github.com/cory-johannsen/lobbylink/internal/storage/postgres"
)

// ProviderSet builds a Demo from a context and a Config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideNetwork,
	ProvideProvider,
	ProvideCoordinator,
	ProvideTicker,
	ProvideBots,
	ProvideJournal,
	NewDemo,
)

// PlayerName is the display name of the interactive participant.
const PlayerName = "player"

// ProvideLogger builds the root logger.
func ProvideLogger(cfg config.Config) (*zap.Logger, func(), error) {
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideNetwork builds the in-process lobby network. It is created for
// every provider kind and only used by the loopback provider and its bots.
func ProvideNetwork(cfg config.Config) *loopback.Network {
	return loopback.NewNetwork(loopback.WithLatency(cfg.Provider.LoopbackLatency))
}

// ProvideProvider connects the local participant to the configured provider.
//
// Postcondition: The cleanup closes the provider connection.
func ProvideProvider(ctx context.Context, cfg config.Config, net *loopback.Network, logger *zap.Logger) (lobby.Provider, func(), error) {
	return Connect(ctx, cfg, net, PlayerName, logger)
}

// Connect registers name with the configured provider.
func Connect(ctx context.Context, cfg config.Config, net *loopback.Network, name string, logger *zap.Logger) (lobby.Provider, func(), error) {
	switch cfg.Provider.Kind {
	case "loopback":
		c := net.Connect(name)
		return c, c.Close, nil
	case "grpc":
		c, err := lobbyrpc.Dial(ctx, cfg.Provider.Addr(), name, cfg.Provider.CallTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

// ProvideCoordinator builds the local participant's coordinator with a log sink.
func ProvideCoordinator(provider lobby.Provider, logger *zap.Logger, cfg config.Config) *lobby.Coordinator {
	coord := lobby.NewCoordinator(provider, logger, cfg.Lobby.CoordinatorOptions())
	coord.AddSink(lobby.LogSink(logger.Named("notify")))
	return coord
}

// ProvideTicker builds the background tick loop at the configured cadence.
func ProvideTicker(cfg config.Config) *loop.Ticker {
	return loop.NewTicker(cfg.Lobby.TickInterval)
}

// Bots are the headless peers sharing the demo's loopback network.
type Bots []*bot.Bot

// ProvideBots starts provider.bots loopback peers and attaches them to ticker.
// The grpc provider gets no local bots.
func ProvideBots(cfg config.Config, net *loopback.Network, ticker *loop.Ticker, logger *zap.Logger) (Bots, func()) {
	if cfg.Provider.Kind != "loopback" {
		return nil, func() {}
	}
	bots := make(Bots, 0, cfg.Provider.Bots)
	clients := make([]*loopback.Client, 0, cfg.Provider.Bots)
	for i := 0; i < cfg.Provider.Bots; i++ {
		name := fmt.Sprintf("%s-%d", cfg.Bot.Name, i+1)
		c := net.Connect(name)
		b := bot.New(name, c, logger, cfg.Lobby.CoordinatorOptions(), BotConfig(cfg))
		b.Attach(ticker)
		bots = append(bots, b)
		clients = append(clients, c)
	}
	return bots, func() {
		for _, c := range clients {
			c.Close()
		}
	}
}

// BotConfig maps the bot and lobby sections onto bot.Config.
func BotConfig(cfg config.Config) bot.Config {
	return bot.Config{
		AutoCreate:     cfg.Bot.AutoCreate,
		Visibility:     cfg.Lobby.VisibilityValue(),
		MaxMembers:     cfg.Lobby.MaxMembers,
		BroadcastEvery: bot.TicksEvery(cfg.Bot.BroadcastEvery, cfg.Lobby.TickInterval),
		Payload:        []byte(cfg.Bot.Payload),
	}
}

const journalHealthTimeout = 5 * time.Second

// ProvideJournal connects the notification journal when enabled and attaches
// it to coord. It returns nil when the journal is disabled.
//
// Postcondition: The cleanup closes the database pool.
func ProvideJournal(ctx context.Context, cfg config.Config, provider lobby.Provider, coord *lobby.Coordinator, logger *zap.Logger) (*postgres.EventJournal, func(), error) {
	if !cfg.Journal.Enabled {
		return nil, func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.Journal)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting journal database: %w", err)
	}
	if err := pool.Health(ctx, journalHealthTimeout); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("journal database health check: %w", err)
	}
	j := pool.Journal(provider.LocalMember(), logger, 256)
	coord.AddSink(j)
	logger.Info("journal enabled",
		zap.String("host", cfg.Journal.Database.Host),
		zap.String("schema", pool.Schema()),
	)
	return j, pool.Close, nil
}
