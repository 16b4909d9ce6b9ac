package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

// flushTimeout bounds the final drain after the writer is cancelled.
const flushTimeout = 5 * time.Second

// JournalEntry is one persisted coordinator notification. Message payloads
// are not stored, only their size.
type JournalEntry struct {
	ID          uuid.UUID
	LocalMember lobby.Member
	Kind        lobby.NotificationKind
	Session     lobby.SessionID
	Peer        lobby.Member
	Error       string
	PayloadSize int
	OccurredAt  time.Time
}

// EventJournal persists notifications for one local participant.
//
// It is a lobby.Sink: Notify only enqueues, and Run writes queued entries.
// Identifiers are stored bit-cast into BIGINT columns.
type EventJournal struct {
	db      *pgxpool.Pool
	local   lobby.Member
	logger  *zap.Logger
	queue   chan JournalEntry
	dropped atomic.Int64
	written atomic.Int64
}

// NewEventJournal creates a journal writing rows for local.
//
// Precondition: db and logger must be non-nil; buffer must be > 0.
// Postcondition: Returns a journal whose queue holds at most buffer entries.
func NewEventJournal(db *pgxpool.Pool, local lobby.Member, logger *zap.Logger, buffer int) *EventJournal {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventJournal{
		db:     db,
		local:  local,
		logger: logger.With(zap.String("component", "journal"), zap.Stringer("member", local)),
		queue:  make(chan JournalEntry, buffer),
	}
}

// Entry converts a notification into a journal row for local.
func Entry(local lobby.Member, n lobby.Notification) JournalEntry {
	e := JournalEntry{
		ID:          uuid.New(),
		LocalMember: local,
		Kind:        n.Kind,
		Session:     n.Session,
		Peer:        n.Member,
		PayloadSize: len(n.Payload),
		OccurredAt:  n.At,
	}
	if n.Err != nil {
		e.Error = n.Err.Error()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	return e
}

// Notify enqueues n without blocking. Entries are dropped when the queue is full.
func (j *EventJournal) Notify(n lobby.Notification) {
	select {
	case j.queue <- Entry(j.local, n):
	default:
		if j.dropped.Add(1) == 1 {
			j.logger.Warn("journal queue full, dropping entries")
		}
	}
}

// Dropped returns the number of entries discarded by Notify.
func (j *EventJournal) Dropped() int64 { return j.dropped.Load() }

// Written returns the number of entries persisted by Run.
func (j *EventJournal) Written() int64 { return j.written.Load() }

// Run writes queued entries until ctx is cancelled, then drains what is left.
//
// Postcondition: Returns ctx.Err() after the final drain; insert failures are
// logged and do not stop the writer.
func (j *EventJournal) Run(ctx context.Context) error {
	for {
		select {
		case e := <-j.queue:
			j.write(ctx, e)
		case <-ctx.Done():
			j.drain()
			return ctx.Err()
		}
	}
}

func (j *EventJournal) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case e := <-j.queue:
			j.write(ctx, e)
		default:
			return
		}
	}
}

func (j *EventJournal) write(ctx context.Context, e JournalEntry) {
	if err := j.Record(ctx, e); err != nil {
		j.logger.Error("writing journal entry", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}
	j.written.Add(1)
}

// Record inserts e synchronously.
//
// Precondition: e.ID must be unique.
// Postcondition: Returns nil once the row is committed.
func (j *EventJournal) Record(ctx context.Context, e JournalEntry) error {
	_, err := j.db.Exec(ctx,
		`INSERT INTO lobby_events (id, local_member, kind, session_id, peer, error, payload_size, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, int64(e.LocalMember), string(e.Kind), int64(e.Session), int64(e.Peer),
		e.Error, e.PayloadSize, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("inserting lobby event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for the journal's member, newest first.
//
// Precondition: limit must be > 0.
func (j *EventJournal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	rows, err := j.db.Query(ctx,
		`SELECT id, local_member, kind, session_id, peer, error, payload_size, occurred_at
		 FROM lobby_events
		 WHERE local_member = $1
		 ORDER BY occurred_at DESC, recorded_at DESC
		 LIMIT $2`,
		int64(j.local), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying lobby events: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e                    JournalEntry
			local, session, peer int64
			kind                 string
		)
		if err := rows.Scan(&e.ID, &local, &kind, &session, &peer, &e.Error, &e.PayloadSize, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning lobby event: %w", err)
		}
		e.LocalMember = lobby.Member(local)
		e.Kind = lobby.NotificationKind(kind)
		e.Session = lobby.SessionID(session)
		e.Peer = lobby.Member(peer)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lobby events: %w", err)
	}
	return out, nil
}

// CountByKind summarises the journal for the member.
func (j *EventJournal) CountByKind(ctx context.Context) (map[lobby.NotificationKind]int, error) {
	rows, err := j.db.Query(ctx,
		`SELECT kind, COUNT(*) FROM lobby_events WHERE local_member = $1 GROUP BY kind`,
		int64(j.local),
	)
	if err != nil {
		return nil, fmt.Errorf("counting lobby events: %w", err)
	}
	defer rows.Close()

	out := make(map[lobby.NotificationKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning lobby event count: %w", err)
		}
		out[lobby.NotificationKind(kind)] = n
	}
	return out, rows.Err()
}
