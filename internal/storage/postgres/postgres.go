// Package postgres persists the lobby notification journal in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobbylink/internal/config"
	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

// eventsTable is the journal table created by the embedded migrations.
const eventsTable = "lobby_events"

// ErrSchemaMissing is returned by Health when the journal table has not been
// migrated into the configured schema.
var ErrSchemaMissing = errors.New("journal table missing; run migrations")

// Pool is the journal's connection pool. Connections are tagged with the
// journal application name and resolve lobby_events through the journal schema.
type Pool struct {
	pool   *pgxpool.Pool
	schema string
}

// PoolConfig translates the journal section into a pgx pool configuration.
//
// Precondition: cfg.Database must contain valid connection parameters.
// Postcondition: Runtime parameters carry application_name and, when Schema
// is set, search_path.
func PoolConfig(cfg config.JournalConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing journal database config: %w", err)
	}

	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	params := poolCfg.ConnConfig.RuntimeParams
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}
	if cfg.Schema != "" {
		params["search_path"] = cfg.Schema
	}
	return poolCfg, nil
}

// NewPool connects the journal database.
//
// Postcondition: Returns a pool that has answered a ping, or a non-nil error.
// The journal table is not checked; see Health.
func NewPool(ctx context.Context, cfg config.JournalConfig) (*Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating journal pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging journal database: %w", err)
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &Pool{pool: pool, schema: schema}, nil
}

// Health checks within timeout that the database answers and that
// lobby_events exists in the journal schema.
//
// Postcondition: Returns ErrSchemaMissing (wrapped) when the database is
// reachable but unmigrated.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	table := pgx.Identifier{p.schema, eventsTable}.Sanitize()
	var present bool
	if err := p.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&present); err != nil {
		return fmt.Errorf("checking journal table: %w", err)
	}
	if !present {
		return fmt.Errorf("%s: %w", table, ErrSchemaMissing)
	}
	return nil
}

// Journal returns an EventJournal for local that writes through this pool.
func (p *Pool) Journal(local lobby.Member, logger *zap.Logger, buffer int) *EventJournal {
	return NewEventJournal(p.pool, local, logger, buffer)
}

// Schema returns the schema holding lobby_events.
func (p *Pool) Schema() string { return p.schema }

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
