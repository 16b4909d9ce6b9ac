// Package lobby coordinates a single peer session against an external lobby
// provider. Provider callbacks run on provider-owned goroutines; everything
// else in this package runs on the caller's polling goroutine.
package lobby

import (
	"fmt"
	"strconv"
)

// SessionID is the provider-issued lobby identifier.
type SessionID uint64

// String renders the raw identifier.
func (id SessionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseSessionID parses a decimal session identifier.
func ParseSessionID(s string) (SessionID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing session id %q: %w", s, err)
	}
	return SessionID(v), nil
}

// Member is a provider-scoped participant identifier.
type Member uint64

// String renders the raw identifier.
func (m Member) String() string {
	return strconv.FormatUint(uint64(m), 10)
}

// ParseMember parses a decimal member identifier.
func ParseMember(s string) (Member, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing member %q: %w", s, err)
	}
	return Member(v), nil
}

// Visibility controls who can discover a created lobby.
type Visibility int

const (
	VisibilityPrivate Visibility = iota
	VisibilityFriendsOnly
	VisibilityPublic
	VisibilityInvisible
)

var visibilityNames = map[Visibility]string{
	VisibilityPrivate:     "private",
	VisibilityFriendsOnly: "friends_only",
	VisibilityPublic:      "public",
	VisibilityInvisible:   "invisible",
}

func (v Visibility) String() string {
	if name, ok := visibilityNames[v]; ok {
		return name
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// ParseVisibility maps a config string to a Visibility.
//
// Postcondition: Returns the matching Visibility, or an error for unknown names.
func ParseVisibility(s string) (Visibility, error) {
	for v, name := range visibilityNames {
		if name == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown visibility %q", s)
}

// SessionState is either "no session" or "joined session id".
// The zero value is NoSession.
type SessionState struct {
	id     SessionID
	joined bool
}

// NoSession is the initial state.
var NoSession = SessionState{}

// JoinedSession returns the state for a joined lobby.
func JoinedSession(id SessionID) SessionState {
	return SessionState{id: id, joined: true}
}

// Joined reports whether the state holds a session, and which one.
func (s SessionState) Joined() (SessionID, bool) {
	return s.id, s.joined
}

func (s SessionState) String() string {
	if !s.joined {
		return "no session"
	}
	return "joined " + s.id.String()
}

// Result is a completion outcome handed from a provider callback to the poller.
type Result struct {
	ID  SessionID
	Err error
}

// Message is a pending inbound message. Release must be called once the
// payload has been consumed.
type Message struct {
	From    Member
	Channel uint8
	Payload []byte

	release func()
}

// NewMessage builds a Message whose Release invokes release. A nil release is allowed.
func NewMessage(from Member, channel uint8, payload []byte, release func()) Message {
	return Message{From: from, Channel: channel, Payload: payload, release: release}
}

// Release returns the message's resources to the provider.
func (m Message) Release() {
	if m.release != nil {
		m.release()
	}
}

// EventKind discriminates provider events.
type EventKind int

const (
	// EventJoinRequested is an accepted invitation from an external overlay.
	EventJoinRequested EventKind = iota + 1
	// EventPeerSessionRequested is raised by the first message from an unknown peer.
	EventPeerSessionRequested
	// EventPeerSessionFailed reports a peer messaging session ending abnormally.
	EventPeerSessionFailed
)

func (k EventKind) String() string {
	switch k {
	case EventJoinRequested:
		return "join_requested"
	case EventPeerSessionRequested:
		return "peer_session_requested"
	case EventPeerSessionFailed:
		return "peer_session_failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an out-of-band provider notification.
type Event struct {
	Kind    EventKind
	Session SessionID
	Peer    Member
	Reason  string
}

// Provider is the external lobby and peer messaging service.
//
// CreateSession and JoinSession return immediately; done is invoked exactly
// once, on a provider-owned goroutine.
type Provider interface {
	LocalMember() Member
	CreateSession(vis Visibility, maxMembers int, done func(SessionID, error))
	JoinSession(id SessionID, done func(SessionID, error))
	MembersOf(id SessionID) []Member
	SendReliable(to Member, channel uint8, payload []byte) error
	ReceivePending(channel uint8, max int) []Message
	RespondPeer(peer Member, accept bool)
	Events() <-chan Event
}
