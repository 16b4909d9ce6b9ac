package loopback

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

// Client is one participant on a Network. It implements lobby.Provider.
// Mutable fields are guarded by the owning Network's mutex.
type Client struct {
	net    *Network
	id     lobby.Member
	name   string
	events chan lobby.Event

	inbox       []lobby.Message
	held        map[lobby.Member][]lobby.Message
	accepted    map[lobby.Member]bool
	outstanding int
	dropped     int
	closed      bool
}

var _ lobby.Provider = (*Client)(nil)

// Name returns the display name given at Connect.
func (c *Client) Name() string { return c.name }

// LocalMember returns this participant's id.
func (c *Client) LocalMember() lobby.Member { return c.id }

// CreateSession creates a lobby owned by this client. done runs on a network goroutine.
func (c *Client) CreateSession(vis lobby.Visibility, maxMembers int, done func(lobby.SessionID, error)) {
	c.net.async(func() {
		done(c.net.create(c, vis, maxMembers))
	})
}

// JoinSession adds this client to lobby id. done runs on a network goroutine.
func (c *Client) JoinSession(id lobby.SessionID, done func(lobby.SessionID, error)) {
	c.net.async(func() {
		done(c.net.join(c, id))
	})
}

// MembersOf returns the lobby's members in join order, or nil for an unknown lobby.
func (c *Client) MembersOf(id lobby.SessionID) []lobby.Member {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	r, ok := c.net.rooms[id]
	if !ok {
		return nil
	}
	return append([]lobby.Member(nil), r.members...)
}

// SendReliable queues payload for to. The first message to a peer that has
// not yet accepted this client is held and raises PeerSessionRequested on it.
func (c *Client) SendReliable(to lobby.Member, channel uint8, payload []byte) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	if c.closed {
		return errors.New("client closed")
	}
	target, ok := c.net.clients[to]
	if !ok || target.closed {
		return fmt.Errorf("member %s: %w", to, errNoRoute)
	}

	// Initiating a session implicitly accepts replies from the peer.
	c.accepted[to] = true

	msg := c.newMessageLocked(target, channel, payload)
	if target.accepted[c.id] {
		target.inbox = append(target.inbox, msg)
		return nil
	}
	if _, waiting := target.held[c.id]; !waiting {
		target.emitLocked(lobby.Event{Kind: lobby.EventPeerSessionRequested, Peer: c.id})
	}
	target.held[c.id] = append(target.held[c.id], msg)
	return nil
}

// ReceivePending pops up to max accepted messages on channel.
func (c *Client) ReceivePending(channel uint8, max int) []lobby.Message {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	var out []lobby.Message
	kept := c.inbox[:0]
	for _, m := range c.inbox {
		if m.Channel == channel && len(out) < max {
			out = append(out, m)
			continue
		}
		kept = append(kept, m)
	}
	c.inbox = kept
	return out
}

// RespondPeer accepts or rejects a pending peer session. Accepting delivers
// held messages; rejecting drops them and notifies the peer.
func (c *Client) RespondPeer(peer lobby.Member, accept bool) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	held := c.held[peer]
	delete(c.held, peer)
	if accept {
		c.accepted[peer] = true
		c.inbox = append(c.inbox, held...)
		return
	}
	for range held {
		c.outstanding--
	}
	if sender, ok := c.net.clients[peer]; ok {
		sender.emitLocked(lobby.Event{
			Kind:   lobby.EventPeerSessionFailed,
			Peer:   c.id,
			Reason: "rejected by peer",
		})
	}
}

// Events returns the client's event channel. It is closed by Close.
func (c *Client) Events() <-chan lobby.Event {
	return c.events
}

// Outstanding returns the number of delivered messages not yet released.
func (c *Client) Outstanding() int {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.outstanding
}

// Dropped returns the number of events discarded because the channel was full.
func (c *Client) Dropped() int {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.dropped
}

// Close disconnects the client, removes it from every lobby and closes its
// event channel. Pending completions fail with CodeUnavailable.
func (c *Client) Close() {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.net.leaveAllLocked(c.id)
	close(c.events)
}

func (c *Client) emitLocked(ev lobby.Event) {
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.dropped++
	}
}

func (c *Client) newMessageLocked(target *Client, channel uint8, payload []byte) lobby.Message {
	target.outstanding++
	released := false
	return lobby.NewMessage(c.id, channel, append([]byte(nil), payload...), func() {
		c.net.mu.Lock()
		defer c.net.mu.Unlock()
		if !released {
			released = true
			target.outstanding--
		}
	})
}
