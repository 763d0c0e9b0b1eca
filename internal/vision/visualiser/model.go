package visualiser

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/loiter.report/internal/vision/l4overlay"
)

// OverlayFrame is one annotation as published to viewers.
type OverlayFrame struct {
	Seq            uint64                     `json:"seq"`
	SourceID       string                     `json:"source_id"`
	FrameNum       uint64                     `json:"frame_num"`
	TimestampMs    int64                      `json:"timestamp_ms"`
	Annotation     l4overlay.AnnotationRecord `json:"annotation"`
}

// toStruct converts any JSON-encodable value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes s into v, the inverse of toStruct.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// ToProto encodes f for the wire.
func (f *OverlayFrame) ToProto() (*structpb.Struct, error) {
	return toStruct(f)
}

// OverlayFrameFromProto decodes a streamed message.
func OverlayFrameFromProto(s *structpb.Struct) (*OverlayFrame, error) {
	var f OverlayFrame
	if err := fromStruct(s, &f); err != nil {
		return nil, fmt.Errorf("decode overlay frame: %w", err)
	}
	return &f, nil
}
