package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

func TestEntry_FromNotification(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Entry(7, lobby.Notification{
		Kind:    lobby.KindMessageReceived,
		Session: 1 << 40,
		Member:  9,
		Payload: []byte("ping"),
		At:      at,
	})
	assert.Equal(t, lobby.Member(7), e.LocalMember)
	assert.Equal(t, lobby.KindMessageReceived, e.Kind)
	assert.Equal(t, lobby.SessionID(1<<40), e.Session)
	assert.Equal(t, lobby.Member(9), e.Peer)
	assert.Equal(t, 4, e.PayloadSize)
	assert.Equal(t, at, e.OccurredAt)
	assert.Empty(t, e.Error)
	assert.NotEqual(t, [16]byte{}, [16]byte(e.ID))
}

func TestEntry_ErrorAndZeroTime(t *testing.T) {
	e := Entry(1, lobby.Notification{Kind: lobby.KindSessionFailed, Err: errors.New("lobby full")})
	assert.Equal(t, "lobby full", e.Error)
	assert.False(t, e.OccurredAt.IsZero())
}

func TestEventJournal_NotifyDropsWhenFull(t *testing.T) {
	j := NewEventJournal(nil, 1, zaptest.NewLogger(t), 2)
	for i := 0; i < 5; i++ {
		j.Notify(lobby.Notification{Kind: lobby.KindSessionJoined})
	}
	assert.Equal(t, int64(3), j.Dropped())
	assert.Len(t, j.queue, 2)
}

// Property: every journal entry gets a distinct id.
func TestPropertyEntryIDsUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "n")
		seen := make(map[[16]byte]bool, n)
		for i := 0; i < n; i++ {
			id := [16]byte(Entry(1, lobby.Notification{Kind: lobby.KindSessionJoined}).ID)
			if seen[id] {
				t.Fatalf("duplicate id after %d entries", i)
			}
			seen[id] = true
		}
	})
}
