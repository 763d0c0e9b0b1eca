package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// OverlayClient is the client API for the overlay service.
type OverlayClient struct {
	cc grpc.ClientConnInterface
}

// NewOverlayClient wraps an established connection.
func NewOverlayClient(cc grpc.ClientConnInterface) *OverlayClient {
	return &OverlayClient{cc: cc}
}

func request(sourceID string) *structpb.Struct {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if sourceID != "" {
		req.Fields["source_id"] = structpb.NewStringValue(sourceID)
	}
	return req
}

// OverlayStream receives overlay frames.
type OverlayStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next frame.
func (s *OverlayStream) Recv() (*OverlayFrame, error) {
	m := new(structpb.Struct)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return OverlayFrameFromProto(m)
}

// StreamOverlays subscribes to overlays of sourceID, or of every stream
// when sourceID is empty.
func (c *OverlayClient) StreamOverlays(ctx context.Context, sourceID string, opts ...grpc.CallOption) (*OverlayStream, error) {
	stream, err := c.cc.NewStream(ctx, &overlayServiceDesc.Streams[0], streamOverlaysMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(request(sourceID)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &OverlayStream{stream: stream}, nil
}

// GetStream fetches the raw snapshot of one stream.
func (c *OverlayClient) GetStream(ctx context.Context, sourceID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStreamMethod, request(sourceID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
