// Package bot is a headless lobby participant. A Bot drives its own
// coordinator from a loop.Ticker, optionally creates a lobby on start and
// periodically broadcasts a payload to the other members.
package bot

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
	"github.com/cory-johannsen/lobbylink/internal/loop"
)

// Config controls bot behaviour.
type Config struct {
	// AutoCreate requests a lobby on Start.
	AutoCreate bool
	Visibility lobby.Visibility
	MaxMembers int
	// BroadcastEvery is the broadcast period in ticks; 0 disables broadcasting.
	BroadcastEvery int
	Payload        []byte
}

// TicksEvery converts a wall-clock period into a tick count, rounding up.
// A non-positive period yields 0.
func TicksEvery(period, interval time.Duration) int {
	if period <= 0 || interval <= 0 {
		return 0
	}
	return int((period + interval - 1) / interval)
}

// Stats are counters observable from any goroutine.
type Stats struct {
	Ticks      int64
	Broadcasts int64
	Sent       int64
	SendFailed int64
	Received   int64
}

// Bot owns one coordinator. Step and Start must be called from the goroutine
// that runs the ticker; Stats and State are safe anywhere.
type Bot struct {
	name   string
	coord  *lobby.Coordinator
	member lobby.Member
	logger *zap.Logger
	cfg    Config

	ticks      atomic.Int64
	broadcasts atomic.Int64
	sent       atomic.Int64
	sendFailed atomic.Int64
	received   atomic.Int64
	joined     atomic.Uint64
}

// New builds a Bot around provider.
//
// Precondition: provider and logger must be non-nil.
// Postcondition: The Bot's coordinator is in NoSession and logs through logger.
func New(name string, provider lobby.Provider, logger *zap.Logger, opts lobby.Options, cfg Config) *Bot {
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = 2
	}
	b := &Bot{
		name:   name,
		member: provider.LocalMember(),
		logger: logger.With(zap.String("bot", name), zap.Stringer("member", provider.LocalMember())),
		cfg:    cfg,
	}
	b.coord = lobby.NewCoordinator(provider, b.logger, opts)
	b.coord.AddSink(lobby.SinkFunc(b.observe))
	return b
}

// Name returns the bot's display name.
func (b *Bot) Name() string { return b.name }

// Member returns the bot's provider identity.
func (b *Bot) Member() lobby.Member { return b.member }

// Coordinator exposes the bot's coordinator for extra sinks.
func (b *Bot) Coordinator() *lobby.Coordinator { return b.coord }

// Session returns the joined session id, safe from any goroutine.
func (b *Bot) Session() (lobby.SessionID, bool) {
	id := b.joined.Load()
	return lobby.SessionID(id), id != 0
}

// Stats snapshots the bot's counters.
func (b *Bot) Stats() Stats {
	return Stats{
		Ticks:      b.ticks.Load(),
		Broadcasts: b.broadcasts.Load(),
		Sent:       b.sent.Load(),
		SendFailed: b.sendFailed.Load(),
		Received:   b.received.Load(),
	}
}

// Start issues the initial create when AutoCreate is set.
func (b *Bot) Start() error {
	if !b.cfg.AutoCreate {
		return nil
	}
	if err := b.coord.RequestCreate(b.cfg.Visibility, b.cfg.MaxMembers); err != nil {
		return fmt.Errorf("bot %s: %w", b.name, err)
	}
	return nil
}

// Step runs one coordinator tick and, every BroadcastEvery ticks, a broadcast.
func (b *Bot) Step() {
	b.coord.Tick()
	n := b.ticks.Add(1)
	if b.cfg.BroadcastEvery <= 0 || n%int64(b.cfg.BroadcastEvery) != 0 {
		return
	}
	outcomes, err := b.coord.Broadcast(b.cfg.Payload)
	if errors.Is(err, lobby.ErrNoActiveSession) {
		return
	}
	b.broadcasts.Add(1)
	for _, o := range outcomes {
		if o.Err != nil {
			b.sendFailed.Add(1)
			continue
		}
		b.sent.Add(1)
	}
}

// Attach registers Step on t under the bot's name.
func (b *Bot) Attach(t *loop.Ticker) {
	t.Register("bot:"+b.name, b.Step)
}

func (b *Bot) observe(n lobby.Notification) {
	switch n.Kind {
	case lobby.KindSessionJoined:
		b.joined.Store(uint64(n.Session))
	case lobby.KindMessageReceived:
		b.received.Add(1)
	}
}
