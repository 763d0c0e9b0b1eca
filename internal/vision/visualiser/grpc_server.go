package visualiser

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

const (
	overlayServiceName   = "loiter.visualiser.v1.OverlayService"
	streamOverlaysMethod = "/" + overlayServiceName + "/StreamOverlays"
	getStreamMethod      = "/" + overlayServiceName + "/GetStream"
)

// StateProvider looks up stream snapshots. *pipeline.Registry implements
// it.
type StateProvider interface {
	Snapshot(sourceID string) (pipeline.StreamSnapshot, bool)
}

// OverlayServiceServer is the server API for the overlay service.
//
// Requests are Structs with an optional string field "source_id".
type OverlayServiceServer interface {
	StreamOverlays(req *structpb.Struct, stream OverlayService_StreamOverlaysServer) error
	GetStream(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// OverlayService_StreamOverlaysServer is the server side of StreamOverlays.
type OverlayService_StreamOverlaysServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type overlayStreamOverlaysServer struct {
	grpc.ServerStream
}

func (x *overlayStreamOverlaysServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func streamOverlaysHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(OverlayServiceServer).StreamOverlays(m, &overlayStreamOverlaysServer{stream})
}

func getStreamHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OverlayServiceServer).GetStream(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStreamMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OverlayServiceServer).GetStream(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var overlayServiceDesc = grpc.ServiceDesc{
	ServiceName: overlayServiceName,
	HandlerType: (*OverlayServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStream", Handler: getStreamHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamOverlays", Handler: streamOverlaysHandler, ServerStreams: true},
	},
	Metadata: "loiter/visualiser/v1/overlay.proto",
}

// RegisterOverlayServiceServer registers srv on s.
func RegisterOverlayServiceServer(s grpc.ServiceRegistrar, srv OverlayServiceServer) {
	s.RegisterService(&overlayServiceDesc, srv)
}

// Server implements OverlayServiceServer on top of a Publisher.
type Server struct {
	publisher *Publisher
	states    StateProvider
}

var _ OverlayServiceServer = (*Server)(nil)

// NewServer creates a Server. states may be nil.
func NewServer(publisher *Publisher, states StateProvider) *Server {
	return &Server{publisher: publisher, states: states}
}

func sourceIDOf(req *structpb.Struct) string {
	if req == nil {
		return ""
	}
	return req.GetFields()["source_id"].GetStringValue()
}

// StreamOverlays sends every published overlay, optionally filtered to
// one source id, until the client goes away.
func (s *Server) StreamOverlays(req *structpb.Struct, stream OverlayService_StreamOverlaysServer) error {
	sourceID := sourceIDOf(req)
	client, err := s.publisher.addClient(sourceID)
	if err != nil {
		if errors.Is(err, ErrTooManyClients) {
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return status.Error(codes.Unavailable, "publisher stopped")
		case frame := <-client.frameCh:
			msg, err := frame.ToProto()
			if err != nil {
				log.Printf("[gRPC] encode overlay %s/%d: %v", frame.SourceID, frame.FrameNum, err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// GetStream returns the snapshot of one stream.
func (s *Server) GetStream(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.states == nil {
		return nil, status.Error(codes.Unavailable, "stream state not available")
	}
	sourceID := sourceIDOf(req)
	if sourceID == "" {
		return nil, status.Error(codes.InvalidArgument, "source_id is required")
	}
	snap, ok := s.states.Snapshot(sourceID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown stream %q", sourceID)
	}
	out, err := toStruct(snap)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
