// Package lobbyrpc adapts a remote lobby service, reached over gRPC, to
// lobby.Provider. The service is described by a hand-maintained ServiceDesc
// whose messages are protobuf well-known types, so no generated code is needed.
package lobbyrpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lobbylink.v1.Lobby"

// MemberHeader carries the caller's member id on every call after Whoami.
const MemberHeader = "lobby-member"

// LobbyServer is implemented by lobby services.
//
// Identifiers travel as decimal strings inside Struct messages, payloads as
// base64 strings.
type LobbyServer interface {
	// Whoami registers the caller under a display name and returns its member id.
	Whoami(context.Context, *wrapperspb.StringValue) (*wrapperspb.UInt64Value, error)
	// CreateSession takes {visibility, max_members} and returns the new lobby id.
	CreateSession(context.Context, *structpb.Struct) (*wrapperspb.UInt64Value, error)
	JoinSession(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.UInt64Value, error)
	// Members returns the lobby's member ids as a list of strings.
	Members(context.Context, *wrapperspb.UInt64Value) (*structpb.ListValue, error)
	// Send takes {to, channel, payload}.
	Send(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Receive takes {channel, max} and returns a list of message structs.
	Receive(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	// RespondPeer takes {peer, accept}.
	RespondPeer(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Subscribe streams event structs until the caller disconnects.
	Subscribe(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unaryMethod[Req, Res proto.Message](name string, newReq func() Req, call func(LobbyServer, context.Context, Req) (Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LobbyServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LobbyServer), ctx, req.(Req))
			})
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LobbyServer).Subscribe(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newUInt64() *wrapperspb.UInt64Value { return new(wrapperspb.UInt64Value) }
func newStruct() *structpb.Struct        { return new(structpb.Struct) }

// ServiceDesc describes the lobby service for grpc.Server registration and
// client stream creation.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LobbyServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Whoami", newString, LobbyServer.Whoami),
		unaryMethod("CreateSession", newStruct, LobbyServer.CreateSession),
		unaryMethod("JoinSession", newUInt64, LobbyServer.JoinSession),
		unaryMethod("Members", newUInt64, LobbyServer.Members),
		unaryMethod("Send", newStruct, LobbyServer.Send),
		unaryMethod("Receive", newStruct, LobbyServer.Receive),
		unaryMethod("RespondPeer", newStruct, LobbyServer.RespondPeer),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "lobbylink/v1/lobby.proto",
}

// RegisterLobbyServer registers impl on s.
func RegisterLobbyServer(s grpc.ServiceRegistrar, impl LobbyServer) {
	s.RegisterService(&ServiceDesc, impl)
}

// MemberFromContext extracts the caller id set by a Client.
//
// Postcondition: Returns an Unauthenticated status error when the header is
// missing or malformed.
func MemberFromContext(ctx context.Context) (lobby.Member, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok || len(md.Get(MemberHeader)) == 0 {
		return 0, status.Error(codes.Unauthenticated, "missing "+MemberHeader+" header")
	}
	m, err := lobby.ParseMember(md.Get(MemberHeader)[0])
	if err != nil {
		return 0, status.Error(codes.Unauthenticated, err.Error())
	}
	return m, nil
}

var codeTable = []struct {
	grpc  codes.Code
	lobby lobby.ErrorCode
}{
	{codes.DeadlineExceeded, lobby.CodeTimeout},
	{codes.Unavailable, lobby.CodeUnavailable},
	{codes.NotFound, lobby.CodeNotFound},
	{codes.ResourceExhausted, lobby.CodeLimitExceeded},
	{codes.PermissionDenied, lobby.CodeAccessDenied},
	{codes.Unauthenticated, lobby.CodeAccessDenied},
	{codes.Canceled, lobby.CodeUnavailable},
}

// ToProviderError converts a gRPC call error into a *lobby.ProviderError.
// A nil err yields nil.
func ToProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return lobby.NewProviderError(lobby.CodeTimeout, op, err)
	}
	st, _ := status.FromError(err)
	for _, row := range codeTable {
		if row.grpc == st.Code() {
			return lobby.NewProviderError(row.lobby, op, errors.New(st.Message()))
		}
	}
	return lobby.NewProviderError(lobby.CodeUnknown, op, err)
}

// StatusFromError converts a provider failure into a gRPC status error, for
// servers backed by another lobby.Provider.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	var pe *lobby.ProviderError
	if !errors.As(err, &pe) {
		return status.Error(codes.Internal, err.Error())
	}
	for _, row := range codeTable {
		if row.lobby == pe.Code {
			return status.Error(row.grpc, err.Error())
		}
	}
	return status.Error(codes.Unknown, err.Error())
}

// EncodeMessage renders m for a Receive response.
func EncodeMessage(m lobby.Message) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"from":    structpb.NewStringValue(m.From.String()),
		"channel": structpb.NewNumberValue(float64(m.Channel)),
		"payload": structpb.NewStringValue(base64.StdEncoding.EncodeToString(m.Payload)),
	}})
}

// DecodeMessage parses a Receive list entry. The result has no release hook.
func DecodeMessage(v *structpb.Value) (lobby.Message, error) {
	s := v.GetStructValue()
	if s == nil {
		return lobby.Message{}, errors.New("message is not a struct")
	}
	from, err := lobby.ParseMember(s.Fields["from"].GetStringValue())
	if err != nil {
		return lobby.Message{}, err
	}
	payload, err := base64.StdEncoding.DecodeString(s.Fields["payload"].GetStringValue())
	if err != nil {
		return lobby.Message{}, fmt.Errorf("decoding payload: %w", err)
	}
	return lobby.NewMessage(from, uint8(s.Fields["channel"].GetNumberValue()), payload, nil), nil
}

// EncodeEvent renders ev for the Subscribe stream.
func EncodeEvent(ev lobby.Event) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":    structpb.NewStringValue(ev.Kind.String()),
		"session": structpb.NewStringValue(ev.Session.String()),
		"peer":    structpb.NewStringValue(ev.Peer.String()),
		"reason":  structpb.NewStringValue(ev.Reason),
	}}
}

var eventKinds = map[string]lobby.EventKind{
	lobby.EventJoinRequested.String():        lobby.EventJoinRequested,
	lobby.EventPeerSessionRequested.String(): lobby.EventPeerSessionRequested,
	lobby.EventPeerSessionFailed.String():    lobby.EventPeerSessionFailed,
}

// DecodeEvent parses a Subscribe stream entry.
func DecodeEvent(s *structpb.Struct) (lobby.Event, error) {
	kind, ok := eventKinds[s.GetFields()["kind"].GetStringValue()]
	if !ok {
		return lobby.Event{}, fmt.Errorf("unknown event kind %q", s.GetFields()["kind"].GetStringValue())
	}
	ev := lobby.Event{Kind: kind, Reason: s.GetFields()["reason"].GetStringValue()}
	var err error
	if raw := s.GetFields()["session"].GetStringValue(); raw != "" {
		if ev.Session, err = lobby.ParseSessionID(raw); err != nil {
			return lobby.Event{}, err
		}
	}
	if raw := s.GetFields()["peer"].GetStringValue(); raw != "" {
		if ev.Peer, err = lobby.ParseMember(raw); err != nil {
			return lobby.Event{}, err
		}
	}
	return ev, nil
}
