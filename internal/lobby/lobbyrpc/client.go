package lobbyrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

const defaultCallTimeout = 10 * time.Second

// Client is a lobby.Provider backed by a remote lobby service.
type Client struct {
	conn    grpc.ClientConnInterface
	closer  io.Closer
	logger  *zap.Logger
	timeout time.Duration
	self    lobby.Member

	events chan lobby.Event
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Close so no call starts once Close waits.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var errClientClosed = errors.New("lobby client closed")

var _ lobby.Provider = (*Client)(nil)

// Dial connects to the lobby service at target and registers as name.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a Client that owns the connection, or an error if
// the service could not be reached.
func Dial(ctx context.Context, target, name string, callTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing lobby service %s: %w", target, err)
	}
	c, err := New(ctx, conn, name, callTimeout, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.closer = conn
	return c, nil
}

// New registers as name over an existing connection and starts the event
// subscription. The caller keeps ownership of conn.
//
// Precondition: conn and logger must be non-nil.
// Postcondition: LocalMember is populated; Events delivers server events
// until Close or the stream ends.
func New(ctx context.Context, conn grpc.ClientConnInterface, name string, callTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	c := &Client{
		conn:    conn,
		logger:  logger.With(zap.String("component", "lobbyrpc.client")),
		timeout: callTimeout,
		events:  make(chan lobby.Event, 64),
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	out := new(wrapperspb.UInt64Value)
	if err := conn.Invoke(callCtx, fullMethod("Whoami"), wrapperspb.String(name), out); err != nil {
		return nil, fmt.Errorf("registering with lobby service: %w", ToProviderError("whoami", err))
	}
	c.self = lobby.Member(out.GetValue())

	c.ctx, c.cancel = context.WithCancel(c.withMember(context.Background()))
	stream, err := c.conn.NewStream(c.ctx, &ServiceDesc.Streams[0], fullMethod("Subscribe"))
	if err != nil {
		c.cancel()
		return nil, fmt.Errorf("subscribing to lobby events: %w", err)
	}
	sub := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := sub.SendMsg(&emptypb.Empty{}); err != nil {
		c.cancel()
		return nil, fmt.Errorf("subscribing to lobby events: %w", err)
	}
	if err := sub.CloseSend(); err != nil {
		c.cancel()
		return nil, fmt.Errorf("subscribing to lobby events: %w", err)
	}

	c.wg.Add(1)
	go c.pump(sub)
	c.logger.Info("registered with lobby service", zap.Stringer("member", c.self), zap.String("name", name))
	return c, nil
}

// pump forwards subscription events until the stream ends.
func (c *Client) pump(sub grpc.ServerStreamingClient[structpb.Struct]) {
	defer c.wg.Done()
	defer close(c.events)
	for {
		msg, err := sub.Recv()
		if err != nil {
			if err != io.EOF && c.ctx.Err() == nil {
				c.logger.Warn("event stream ended", zap.Error(err))
			}
			return
		}
		ev, err := DecodeEvent(msg)
		if err != nil {
			c.logger.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) withMember(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MemberHeader, c.self.String())
}

func (c *Client) invoke(method string, in, out any) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

// LocalMember returns the id assigned by Whoami.
func (c *Client) LocalMember() lobby.Member { return c.self }

// CreateSession issues the call on its own goroutine; done receives the result.
func (c *Client) CreateSession(vis lobby.Visibility, maxMembers int, done func(lobby.SessionID, error)) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"visibility":  structpb.NewStringValue(vis.String()),
		"max_members": structpb.NewNumberValue(float64(maxMembers)),
	}}
	c.async("create", "CreateSession", req, done)
}

// JoinSession issues the call on its own goroutine; done receives the result.
func (c *Client) JoinSession(id lobby.SessionID, done func(lobby.SessionID, error)) {
	c.async("join", "JoinSession", wrapperspb.UInt64(uint64(id)), done)
}

// async runs the call on its own goroutine. After Close, done fires at once
// with an Unavailable error.
func (c *Client) async(op, method string, in any, done func(lobby.SessionID, error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done(0, lobby.NewProviderError(lobby.CodeUnavailable, op, errClientClosed))
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		out := new(wrapperspb.UInt64Value)
		if err := c.invoke(method, in, out); err != nil {
			done(0, ToProviderError(op, err))
			return
		}
		done(lobby.SessionID(out.GetValue()), nil)
	}()
}

// MembersOf returns the lobby's members, or nil if the call fails.
func (c *Client) MembersOf(id lobby.SessionID) []lobby.Member {
	out := new(structpb.ListValue)
	if err := c.invoke("Members", wrapperspb.UInt64(uint64(id)), out); err != nil {
		c.logger.Warn("listing members failed", zap.Stringer("session", id), zap.Error(err))
		return nil
	}
	members := make([]lobby.Member, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		m, err := lobby.ParseMember(v.GetStringValue())
		if err != nil {
			c.logger.Warn("skipping malformed member", zap.Error(err))
			continue
		}
		members = append(members, m)
	}
	return members
}

// SendReliable delivers payload to a single member.
func (c *Client) SendReliable(to lobby.Member, channel uint8, payload []byte) error {
	msg := EncodeMessage(lobby.NewMessage(c.self, channel, payload, nil)).GetStructValue()
	msg.Fields["to"] = structpb.NewStringValue(to.String())
	delete(msg.Fields, "from")
	if err := c.invoke("Send", msg, new(emptypb.Empty)); err != nil {
		return ToProviderError("send", err)
	}
	return nil
}

// ReceivePending fetches up to max messages on channel. The server releases
// messages once they are serialized, so Release on the results is a no-op.
func (c *Client) ReceivePending(channel uint8, max int) []lobby.Message {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"channel": structpb.NewNumberValue(float64(channel)),
		"max":     structpb.NewNumberValue(float64(max)),
	}}
	out := new(structpb.ListValue)
	if err := c.invoke("Receive", req, out); err != nil {
		c.logger.Warn("receiving messages failed", zap.Error(err))
		return nil
	}
	msgs := make([]lobby.Message, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		m, err := DecodeMessage(v)
		if err != nil {
			c.logger.Warn("skipping malformed message", zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// RespondPeer answers a peer session request.
func (c *Client) RespondPeer(peer lobby.Member, accept bool) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"peer":   structpb.NewStringValue(peer.String()),
		"accept": structpb.NewBoolValue(accept),
	}}
	if err := c.invoke("RespondPeer", req, new(emptypb.Empty)); err != nil {
		c.logger.Warn("responding to peer failed", zap.Stringer("peer", peer), zap.Error(err))
	}
}

// Events returns the subscription channel. It is closed when the stream ends.
func (c *Client) Events() <-chan lobby.Event { return c.events }

// Close cancels the subscription and outstanding calls, waits for their
// goroutines and closes the connection if Dial opened it. Later calls to
// Close are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
