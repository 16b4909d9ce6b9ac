package lobbyrpc_test

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
	"github.com/cory-johannsen/lobbylink/internal/lobby/lobbyrpc"
	"github.com/cory-johannsen/lobbylink/internal/lobby/loopback"
)

// loopbackServer serves the lobby service from an in-process loopback network,
// one loopback client per registered caller.
type loopbackServer struct {
	net *loopback.Network

	mu      sync.Mutex
	clients map[lobby.Member]*loopback.Client
	// failNext, when set, is returned by the next CreateSession or JoinSession.
	failNext error
}

var _ lobbyrpc.LobbyServer = (*loopbackServer)(nil)

func newLoopbackServer() *loopbackServer {
	return &loopbackServer{
		net:     loopback.NewNetwork(),
		clients: make(map[lobby.Member]*loopback.Client),
	}
}

func (s *loopbackServer) caller(ctx context.Context) (*loopback.Client, error) {
	m, err := lobbyrpc.MemberFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[m]
	if !ok {
		return nil, status.Errorf(codes.PermissionDenied, "unknown member %s", m)
	}
	return c, nil
}

func (s *loopbackServer) failNextCall(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *loopbackServer) takeFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.failNext
	s.failNext = nil
	return err
}

type idResult struct {
	id  lobby.SessionID
	err error
}

func (s *loopbackServer) Whoami(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.UInt64Value, error) {
	c := s.net.Connect(in.GetValue())
	s.mu.Lock()
	s.clients[c.LocalMember()] = c
	s.mu.Unlock()
	return wrapperspb.UInt64(uint64(c.LocalMember())), nil
}

func (s *loopbackServer) CreateSession(ctx context.Context, in *structpb.Struct) (*wrapperspb.UInt64Value, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	vis, err := lobby.ParseVisibility(in.GetFields()["visibility"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ch := make(chan idResult, 1)
	c.CreateSession(vis, int(in.GetFields()["max_members"].GetNumberValue()), func(id lobby.SessionID, err error) {
		ch <- idResult{id, err}
	})
	r := <-ch
	if r.err != nil {
		return nil, lobbyrpc.StatusFromError(r.err)
	}
	return wrapperspb.UInt64(uint64(r.id)), nil
}

func (s *loopbackServer) JoinSession(ctx context.Context, in *wrapperspb.UInt64Value) (*wrapperspb.UInt64Value, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	ch := make(chan idResult, 1)
	c.JoinSession(lobby.SessionID(in.GetValue()), func(id lobby.SessionID, err error) {
		ch <- idResult{id, err}
	})
	r := <-ch
	if r.err != nil {
		return nil, lobbyrpc.StatusFromError(r.err)
	}
	return wrapperspb.UInt64(uint64(r.id)), nil
}

func (s *loopbackServer) Members(ctx context.Context, in *wrapperspb.UInt64Value) (*structpb.ListValue, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	out := &structpb.ListValue{}
	for _, m := range c.MembersOf(lobby.SessionID(in.GetValue())) {
		out.Values = append(out.Values, structpb.NewStringValue(m.String()))
	}
	return out, nil
}

func (s *loopbackServer) Send(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	in.Fields["from"] = structpb.NewStringValue(c.LocalMember().String())
	msg, err := lobbyrpc.DecodeMessage(structpb.NewStructValue(in))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	to, err := lobby.ParseMember(in.GetFields()["to"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := c.SendReliable(to, msg.Channel, msg.Payload); err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func (s *loopbackServer) Receive(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	out := &structpb.ListValue{}
	msgs := c.ReceivePending(uint8(in.GetFields()["channel"].GetNumberValue()), int(in.GetFields()["max"].GetNumberValue()))
	for _, m := range msgs {
		out.Values = append(out.Values, lobbyrpc.EncodeMessage(m))
		m.Release()
	}
	return out, nil
}

func (s *loopbackServer) RespondPeer(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := lobby.ParseMember(in.GetFields()["peer"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	c.RespondPeer(peer, in.GetFields()["accept"].GetBoolValue())
	return &emptypb.Empty{}, nil
}

func (s *loopbackServer) Subscribe(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	c, err := s.caller(stream.Context())
	if err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return nil
			}
			if err := stream.Send(lobbyrpc.EncodeEvent(ev)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
