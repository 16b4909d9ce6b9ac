package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
	"github.com/cory-johannsen/lobbylink/internal/storage/postgres"
	"github.com/cory-johannsen/lobbylink/internal/testutil"
)

func TestEventJournal_RecordAndRecent(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	ctx := context.Background()

	require.NoError(t, pc.Pool.Health(ctx, time.Second))

	j := pc.Pool.Journal(42, zaptest.NewLogger(t), 16)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bigSession := lobby.SessionID(1<<63 + 5)

	require.NoError(t, j.Record(ctx, postgres.Entry(42, lobby.Notification{
		Kind: lobby.KindSessionJoined, Session: bigSession, At: base,
	})))
	require.NoError(t, j.Record(ctx, postgres.Entry(42, lobby.Notification{
		Kind: lobby.KindSessionFailed, Err: errors.New("not found"), At: base.Add(time.Second),
	})))
	other := postgres.NewEventJournal(pc.RawPool, 43, zaptest.NewLogger(t), 16)
	require.NoError(t, other.Record(ctx, postgres.Entry(43, lobby.Notification{Kind: lobby.KindSessionJoined, At: base})))

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, lobby.KindSessionFailed, got[0].Kind)
	assert.Equal(t, "not found", got[0].Error)
	assert.Equal(t, lobby.KindSessionJoined, got[1].Kind)
	assert.Equal(t, bigSession, got[1].Session, "ids above 2^63 survive the BIGINT round trip")

	counts, err := j.CountByKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[lobby.NotificationKind]int{
		lobby.KindSessionJoined: 1,
		lobby.KindSessionFailed: 1,
	}, counts)

	_, err = j.Recent(ctx, 0)
	assert.Error(t, err)
}

func TestPool_HealthRequiresMigratedTable(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()

	assert.ErrorIs(t, pc.Pool.Health(ctx, time.Second), postgres.ErrSchemaMissing)

	pc.ApplyMigrations(t)
	require.NoError(t, pc.Pool.Health(ctx, time.Second))

	var app string
	require.NoError(t, pc.RawPool.QueryRow(ctx, `SELECT current_setting('application_name')`).Scan(&app))
	assert.Equal(t, "lobbylink-test", app)
}

func TestEventJournal_RunWritesQueuedNotifications(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)

	j := postgres.NewEventJournal(pc.RawPool, 7, zaptest.NewLogger(t), 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	for i := 0; i < 3; i++ {
		j.Notify(lobby.Notification{Kind: lobby.KindMessageReceived, Member: 8, Payload: []byte("x"), At: time.Now()})
	}
	require.Eventually(t, func() bool { return j.Written() == 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	got, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, got[0].PayloadSize)
}

func TestMigrate_DownAndUp(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)

	res, err := postgres.Migrate(pc.DSN(), "up", 0)
	require.NoError(t, err)
	assert.Equal(t, uint(2), res.Version)

	res, err = postgres.Migrate(pc.DSN(), "up", 0)
	require.NoError(t, err)
	assert.True(t, res.NoChange)

	res, err = postgres.Migrate(pc.DSN(), "down", 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), res.Version)

	_, err = postgres.Migrate(pc.DSN(), "sideways", 0)
	assert.Error(t, err)
}
