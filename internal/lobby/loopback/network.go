// Package loopback is an in-process lobby.Provider. A Network holds lobbies
// and per-member inboxes in memory; each connected Client behaves like one
// participant of an external lobby service, completing requests on its own
// goroutines. It backs offline play and tests.
package loopback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

// firstSessionID keeps loopback lobby ids visually distinct from member ids.
const firstSessionID = 1 << 40

var errNoRoute = errors.New("no route to member")

// Option configures a Network.
type Option func(*Network)

// WithLatency delays every completion callback by d.
func WithLatency(d time.Duration) Option {
	return func(n *Network) { n.latency = d }
}

// WithEventBuffer sets the per-client event channel capacity.
func WithEventBuffer(size int) Option {
	return func(n *Network) {
		if size > 0 {
			n.eventBuffer = size
		}
	}
}

type room struct {
	id         lobby.SessionID
	visibility lobby.Visibility
	maxMembers int
	members    []lobby.Member
}

// Network is a shared in-memory lobby service. All methods are safe for
// concurrent use.
type Network struct {
	latency     time.Duration
	eventBuffer int

	mu          sync.Mutex
	nextSession uint64
	nextMember  uint64
	rooms       map[lobby.SessionID]*room
	clients     map[lobby.Member]*Client

	pending sync.WaitGroup
}

// NewNetwork creates an empty Network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		eventBuffer: 64,
		nextSession: firstSessionID,
		rooms:       make(map[lobby.SessionID]*room),
		clients:     make(map[lobby.Member]*Client),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Connect registers a new participant.
//
// Postcondition: Returns a Client with a unique Member id.
func (n *Network) Connect(name string) *Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextMember++
	c := &Client{
		net:      n,
		id:       lobby.Member(n.nextMember),
		name:     name,
		events:   make(chan lobby.Event, n.eventBuffer),
		held:     make(map[lobby.Member][]lobby.Message),
		accepted: make(map[lobby.Member]bool),
	}
	n.clients[c.id] = c
	return c
}

// Invite raises a JoinRequested event on member, as an overlay invite would.
//
// Postcondition: Returns an error if the lobby or the member is unknown.
func (n *Network) Invite(session lobby.SessionID, member lobby.Member) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.rooms[session]; !ok {
		return fmt.Errorf("inviting to lobby %s: %w", session, lobby.ErrNotFound)
	}
	c, ok := n.clients[member]
	if !ok || c.closed {
		return fmt.Errorf("inviting member %s: %w", member, errNoRoute)
	}
	c.emitLocked(lobby.Event{Kind: lobby.EventJoinRequested, Session: session})
	return nil
}

// LobbyCount returns the number of lobbies ever created and not emptied.
func (n *Network) LobbyCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.rooms)
}

// Wait blocks until every issued completion has run.
func (n *Network) Wait() {
	n.pending.Wait()
}

func (n *Network) async(fn func()) {
	n.pending.Add(1)
	go func() {
		defer n.pending.Done()
		if n.latency > 0 {
			time.Sleep(n.latency)
		}
		fn()
	}()
}

func (n *Network) create(owner *Client, vis lobby.Visibility, maxMembers int) (lobby.SessionID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if owner.closed {
		return 0, lobby.NewProviderError(lobby.CodeUnavailable, "create", errors.New("client closed"))
	}
	n.nextSession++
	r := &room{
		id:         lobby.SessionID(n.nextSession),
		visibility: vis,
		maxMembers: maxMembers,
		members:    []lobby.Member{owner.id},
	}
	n.rooms[r.id] = r
	return r.id, nil
}

func (n *Network) join(c *Client, id lobby.SessionID) (lobby.SessionID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.closed {
		return 0, lobby.NewProviderError(lobby.CodeUnavailable, "join", errors.New("client closed"))
	}
	r, ok := n.rooms[id]
	if !ok {
		return 0, lobby.NewProviderError(lobby.CodeNotFound, "join", fmt.Errorf("lobby %s", id))
	}
	for _, m := range r.members {
		if m == c.id {
			return r.id, nil
		}
	}
	if len(r.members) >= r.maxMembers {
		return 0, lobby.NewProviderError(lobby.CodeLimitExceeded, "join", fmt.Errorf("lobby %s is full", id))
	}
	r.members = append(r.members, c.id)
	return r.id, nil
}

// leaveAllLocked removes member from every lobby, deleting emptied ones.
func (n *Network) leaveAllLocked(member lobby.Member) {
	for id, r := range n.rooms {
		kept := r.members[:0]
		for _, m := range r.members {
			if m != member {
				kept = append(kept, m)
			}
		}
		r.members = kept
		if len(r.members) == 0 {
			delete(n.rooms, id)
		}
	}
}
