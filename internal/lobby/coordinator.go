package lobby

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxEventsPerTick bounds how many provider events one DispatchEvents call handles.
const maxEventsPerTick = 64

// Options tunes a Coordinator.
type Options struct {
	// Channel is the messaging channel used by Broadcast and Receive.
	Channel uint8
	// ReceiveBatch is the maximum number of messages read per Receive call.
	ReceiveBatch int
	// AcceptPeers decides incoming peer session requests.
	AcceptPeers bool
	// Now stamps notifications; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions mirrors a two-player demo: channel 0, one message per tick,
// accept every peer.
func DefaultOptions() Options {
	return Options{Channel: 0, ReceiveBatch: 1, AcceptPeers: true}
}

// SendOutcome is the per-member result of a Broadcast.
// Err is nil on success, or a *SendError.
type SendOutcome struct {
	Member Member
	Err    error
}

// Coordinator owns the session state of one local participant.
//
// All methods except those on the bridge must be called from the single
// polling goroutine. Provider completions reach the coordinator only through
// its Bridge.
type Coordinator struct {
	provider Provider
	bridge   *Bridge
	logger   *zap.Logger
	opts     Options
	sinks    []Sink

	state    SessionState
	inFlight int
}

// NewCoordinator creates a Coordinator in the NoSession state.
//
// Precondition: provider and logger must be non-nil.
// Postcondition: Returns a Coordinator with an empty bridge and no sinks.
func NewCoordinator(provider Provider, logger *zap.Logger, opts Options) *Coordinator {
	if opts.ReceiveBatch <= 0 {
		opts.ReceiveBatch = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		provider: provider,
		bridge:   NewBridge(),
		logger:   logger.With(zap.String("component", "lobby.coordinator")),
		opts:     opts,
	}
}

// AddSink registers a notification consumer.
func (c *Coordinator) AddSink(s Sink) {
	c.sinks = append(c.sinks, s)
}

// Bridge exposes the completion queue, mainly for tests and diagnostics.
func (c *Coordinator) Bridge() *Bridge {
	return c.bridge
}

// State returns the current session state.
func (c *Coordinator) State() SessionState {
	return c.state
}

// Pending returns the number of issued requests whose results have not been polled.
func (c *Coordinator) Pending() int {
	return c.inFlight
}

// RequestCreate asks the provider for a new lobby.
//
// Precondition: maxMembers >= 1.
// Postcondition: Returns ErrAlreadyInSession when joined or a request is in
// flight; otherwise the provider call has been issued and its result will
// surface through Poll.
func (c *Coordinator) RequestCreate(vis Visibility, maxMembers int) error {
	if err := c.guard(); err != nil {
		return err
	}
	if maxMembers < 1 {
		return fmt.Errorf("creating session: max members must be >= 1, got %d", maxMembers)
	}

	reqID := uuid.NewString()
	c.inFlight++
	c.logger.Info("requesting lobby create",
		zap.String("request_id", reqID),
		zap.Stringer("visibility", vis),
		zap.Int("max_members", maxMembers),
	)
	c.provider.CreateSession(vis, maxMembers, c.completion("create", reqID))
	return nil
}

// RequestJoin asks the provider to join target.
//
// Postcondition: Returns ErrAlreadyInSession when joined or a request is in
// flight; otherwise the join has been issued.
func (c *Coordinator) RequestJoin(target SessionID) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.issueJoin(target, "join")
	return nil
}

// OnInvite handles an accepted external invitation. A joined coordinator
// ignores it and emits InviteIgnored; otherwise the join is issued even if
// another request is still in flight.
func (c *Coordinator) OnInvite(target SessionID) {
	if current, joined := c.state.Joined(); joined {
		c.logger.Info("ignoring invite while in session",
			zap.Stringer("invited", target),
			zap.Stringer("current", current),
		)
		c.emit(Notification{Kind: KindInviteIgnored, Session: target})
		return
	}
	c.issueJoin(target, "invite")
}

// Poll consumes at most one completion result.
//
// Postcondition: On Ok the state is JoinedSession(id) and SessionJoined was
// emitted; on Err the state is unchanged and SessionFailed was emitted; with
// an empty bridge nothing happens.
func (c *Coordinator) Poll() {
	r, ok := c.bridge.TryTake()
	if !ok {
		return
	}
	if c.inFlight > 0 {
		c.inFlight--
	}

	if r.Err != nil {
		c.emit(Notification{Kind: KindSessionFailed, Err: r.Err})
		return
	}

	if prev, joined := c.state.Joined(); joined && prev != r.ID {
		c.logger.Warn("late result replaces joined session",
			zap.Stringer("previous", prev),
			zap.Stringer("session", r.ID),
		)
	}
	c.state = JoinedSession(r.ID)
	c.emit(Notification{Kind: KindSessionJoined, Session: r.ID})
}

// Broadcast sends payload reliably to every member of the current session
// except the local participant. Individual failures do not stop the loop.
//
// Postcondition: Returns ErrNoActiveSession without touching the provider when
// not joined; otherwise one outcome per remote member (possibly none).
func (c *Coordinator) Broadcast(payload []byte) ([]SendOutcome, error) {
	id, joined := c.state.Joined()
	if !joined {
		return nil, ErrNoActiveSession
	}

	self := c.provider.LocalMember()
	members := c.provider.MembersOf(id)
	outcomes := make([]SendOutcome, 0, len(members))
	for _, m := range members {
		if m == self {
			continue
		}
		var sendErr error
		if err := c.provider.SendReliable(m, c.opts.Channel, payload); err != nil {
			sendErr = &SendError{To: m, Err: err}
			c.logger.Warn("message send failed", zap.Stringer("member", m), zap.Error(err))
		} else {
			c.logger.Debug("message sent", zap.Stringer("member", m), zap.Int("bytes", len(payload)))
		}
		outcomes = append(outcomes, SendOutcome{Member: m, Err: sendErr})
	}
	return outcomes, nil
}

// DispatchEvents handles provider events that are already queued, without blocking.
func (c *Coordinator) DispatchEvents() {
	events := c.provider.Events()
	if events == nil {
		return
	}
	for i := 0; i < maxEventsPerTick; i++ {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		default:
			return
		}
	}
}

// Receive reads pending messages on the configured channel, emits
// MessageReceived for each and releases them.
//
// Postcondition: Returns the number of messages consumed.
func (c *Coordinator) Receive() int {
	msgs := c.provider.ReceivePending(c.opts.Channel, c.opts.ReceiveBatch)
	session, _ := c.state.Joined()
	for _, m := range msgs {
		payload := append([]byte(nil), m.Payload...)
		m.Release()
		c.emit(Notification{Kind: KindMessageReceived, Session: session, Member: m.From, Payload: payload})
	}
	return len(msgs)
}

// Tick runs one update cycle: Poll, DispatchEvents, Receive.
func (c *Coordinator) Tick() {
	c.Poll()
	c.DispatchEvents()
	c.Receive()
}

func (c *Coordinator) handleEvent(ev Event) {
	switch ev.Kind {
	case EventJoinRequested:
		c.logger.Info("join requested", zap.Stringer("session", ev.Session))
		c.OnInvite(ev.Session)
	case EventPeerSessionRequested:
		c.provider.RespondPeer(ev.Peer, c.opts.AcceptPeers)
		kind := KindPeerRejected
		if c.opts.AcceptPeers {
			kind = KindPeerAccepted
		}
		c.emit(Notification{Kind: kind, Member: ev.Peer})
	case EventPeerSessionFailed:
		c.emit(Notification{
			Kind:   KindPeerSessionFailed,
			Member: ev.Peer,
			Err:    fmt.Errorf("peer session ended: %s", ev.Reason),
		})
	default:
		c.logger.Debug("ignoring provider event", zap.Stringer("kind", ev.Kind))
	}
}

func (c *Coordinator) guard() error {
	if id, joined := c.state.Joined(); joined {
		return fmt.Errorf("%w: %s", ErrAlreadyInSession, id)
	}
	if c.inFlight > 0 {
		return fmt.Errorf("%w: request in flight", ErrAlreadyInSession)
	}
	return nil
}

func (c *Coordinator) issueJoin(target SessionID, op string) {
	reqID := uuid.NewString()
	c.inFlight++
	c.logger.Info("requesting lobby join",
		zap.String("request_id", reqID),
		zap.String("op", op),
		zap.Stringer("session", target),
	)
	c.provider.JoinSession(target, c.completion(op, reqID))
}

// completion builds the callback handed to the provider. It runs on a
// provider goroutine and touches nothing but the bridge and the logger.
func (c *Coordinator) completion(op, reqID string) func(SessionID, error) {
	return func(id SessionID, err error) {
		if err != nil {
			pe := asProviderError(op, err)
			c.logger.Debug("completion failed", zap.String("request_id", reqID), zap.Error(pe))
			c.bridge.Submit(Result{Err: pe})
			return
		}
		c.logger.Debug("completion succeeded", zap.String("request_id", reqID), zap.Stringer("session", id))
		c.bridge.Submit(Result{ID: id})
	}
}

func (c *Coordinator) emit(n Notification) {
	n.At = c.opts.Now()
	for _, s := range c.sinks {
		s.Notify(n)
	}
}
