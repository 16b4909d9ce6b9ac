package lobby

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionState(t *testing.T) {
	id, joined := NoSession.Joined()
	assert.False(t, joined)
	assert.Equal(t, SessionID(0), id)
	assert.Equal(t, "no session", NoSession.String())

	s := JoinedSession(42)
	id, joined = s.Joined()
	assert.True(t, joined)
	assert.Equal(t, SessionID(42), id)
	assert.Equal(t, "joined 42", s.String())
	assert.Equal(t, JoinedSession(42), s)
	assert.NotEqual(t, JoinedSession(43), s)
}

func TestParseVisibility(t *testing.T) {
	for _, v := range []Visibility{VisibilityPrivate, VisibilityFriendsOnly, VisibilityPublic, VisibilityInvisible} {
		got, err := ParseVisibility(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := ParseVisibility("secret")
	assert.Error(t, err)
	assert.Equal(t, "visibility(9)", Visibility(9).String())
}

func TestParseIdentifiers(t *testing.T) {
	id, err := ParseSessionID("109775241058543776")
	require.NoError(t, err)
	assert.Equal(t, SessionID(109775241058543776), id)

	_, err = ParseSessionID("lobby")
	assert.Error(t, err)

	m, err := ParseMember("76561198000000000")
	require.NoError(t, err)
	assert.Equal(t, "76561198000000000", m.String())

	_, err = ParseMember("-1")
	assert.Error(t, err)
}

func TestMessageRelease(t *testing.T) {
	released := 0
	m := NewMessage(1, 0, []byte("x"), func() { released++ })
	m.Release()
	assert.Equal(t, 1, released)

	// A message without a release hook is a no-op.
	NewMessage(1, 0, nil, nil).Release()
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "join_requested", EventJoinRequested.String())
	assert.Equal(t, "peer_session_requested", EventPeerSessionRequested.String())
	assert.Equal(t, "peer_session_failed", EventPeerSessionFailed.String())
	assert.Equal(t, "event(0)", EventKind(0).String())
}
