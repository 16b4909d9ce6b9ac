package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobbylink/internal/config"
	"github.com/cory-johannsen/lobbylink/internal/lobby"
	"github.com/cory-johannsen/lobbylink/internal/lobby/loopback"
	"github.com/cory-johannsen/lobbylink/internal/loop"
	"github.com/cory-johannsen/lobbylink/internal/storage/postgres"
	"github.com/cory-johannsen/lobbylink/internal/tui"
)

// Demo is the assembled interactive session: the player's coordinator, the
// provider behind it and the background peers sharing its network.
type Demo struct {
	Config      config.Config
	Logger      *zap.Logger
	Network     *loopback.Network
	Provider    lobby.Provider
	Coordinator *lobby.Coordinator
	Ticker      *loop.Ticker
	Bots        Bots
	Journal     *postgres.EventJournal
}

// NewDemo collects the assembled components. journal may be nil.
func NewDemo(cfg config.Config, logger *zap.Logger, net *loopback.Network, provider lobby.Provider, coord *lobby.Coordinator, ticker *loop.Ticker, bots Bots, journal *postgres.EventJournal) *Demo {
	return &Demo{
		Config:      cfg,
		Logger:      logger,
		Network:     net,
		Provider:    provider,
		Coordinator: coord,
		Ticker:      ticker,
		Bots:        bots,
		Journal:     journal,
	}
}

// Invite asks every local bot to join id.
func (d *Demo) Invite(id lobby.SessionID) error {
	if len(d.Bots) == 0 {
		return errors.New("no local bots")
	}
	var errs []error
	for _, b := range d.Bots {
		if err := d.Network.Invite(id, b.Member()); err != nil {
			errs = append(errs, fmt.Errorf("inviting %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// TUIOptions returns the front end options for this demo. Invite is only
// offered when local bots exist.
func (d *Demo) TUIOptions() tui.Options {
	opts := tui.Options{
		Visibility:   d.Config.Lobby.VisibilityValue(),
		MaxMembers:   d.Config.Lobby.MaxMembers,
		Payload:      []byte(d.Config.Bot.Payload),
		TickInterval: d.Config.Lobby.TickInterval,
	}
	if len(d.Bots) > 0 {
		opts.Invite = d.Invite
	}
	return opts
}

// Background starts the bots, their tick loop and the journal writer. The
// returned function blocks until they have all returned after ctx is done.
//
// Precondition: Background must be called at most once.
func (d *Demo) Background(ctx context.Context) (wait func()) {
	for _, b := range d.Bots {
		if err := b.Start(); err != nil {
			d.Logger.Warn("bot did not start", zap.String("bot", b.Name()), zap.Error(err))
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.Ticker.Run(ctx)
	}()
	if d.Journal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Journal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.Logger.Error("journal stopped", zap.Error(err))
			}
		}()
	}
	return wg.Wait
}
